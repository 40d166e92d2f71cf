// Segnet command loads a network description and runs the forward and optional backward
// passes over an input image or random data, printing timing, loss and segmentation stats.
package main

import (
	"flag"
	"fmt"
	"github.com/jnb666/segnet/img"
	"github.com/jnb666/segnet/nnet"
	"github.com/jnb666/segnet/num"
	"github.com/jnb666/segnet/stats"
	"github.com/jnb666/segnet/view"
	"github.com/pkg/errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// settings holds repeated -set key=value flags
type settings []string

func (s *settings) String() string { return strings.Join(*s, ",") }

func (s *settings) Set(val string) error {
	if !strings.Contains(val, "=") {
		return errors.Errorf("invalid setting %q: should be key=value", val)
	}
	*s = append(*s, val)
	return nil
}

type options struct {
	iter      int
	backward  bool
	input     string
	image     string
	plot      string
	plotGrad  bool
	svg       string
	lossPlot  string
	seg       string
	palette   string
	sets      settings
	imageSize image.Point
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: segnet [opts] <model>")
		os.Exit(1)
	}
	model := os.Args[len(os.Args)-1]
	fmt.Println("load model:", model)
	conf, err := nnet.LoadConfig(model + ".net")
	nnet.CheckErr(err)

	// override config settings from command line
	var opt options
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed")
	flag.IntVar(&conf.Threads, "threads", conf.Threads, "number of worker threads")
	flag.IntVar(&conf.DebugLevel, "debug", conf.DebugLevel, "debug logging level")
	flag.BoolVar(&conf.Profile, "profile", conf.Profile, "print profiling info")
	flag.Var(&opt.sets, "set", "override config setting as key=value")
	flag.IntVar(&opt.iter, "iter", 1, "number of iterations")
	flag.BoolVar(&opt.backward, "backward", false, "run backward pass after each forward pass")
	flag.StringVar(&opt.input, "input", "data", "name of input blob")
	flag.StringVar(&opt.image, "image", "", "image file to load into the input blob")
	flag.StringVar(&opt.plot, "plot", "", "name of blob to plot as a heat map")
	flag.BoolVar(&opt.plotGrad, "grad", false, "plot gradients rather than values")
	flag.StringVar(&opt.svg, "svg", "heatmap.svg", "heat map output file")
	flag.StringVar(&opt.lossPlot, "lossplot", "", "plot loss per iteration to svg file")
	flag.StringVar(&opt.seg, "seg", "", "write segmentation from parseOutput layer to png file")
	flag.StringVar(&opt.palette, "palette", "", "pixel table file with colours for each label")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Println("Usage: segnet [opts] <model>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	for _, s := range opt.sets {
		kv := strings.SplitN(s, "=", 2)
		conf, err = conf.SetString(kv[0], kv[1])
		nnet.CheckErr(err)
	}
	if conf.Threads < 1 {
		conf.Threads = 1
	}
	nnet.SetSeed(conf.RandSeed)

	dev := num.NewCPUDevice()
	q := dev.NewQueue(conf.Threads)
	defer q.Shutdown()
	q.Profiling(conf.Profile)

	net, err := nnet.New(q, conf)
	nnet.CheckErr(err)
	fmt.Println(net)
	nnet.CheckErr(initInputs(q, net, &opt))

	nnet.CheckErr(run(q, net, &opt))
	if conf.Profile {
		q.PrintProfile()
	}
	nnet.CheckErr(output(q, net, &opt))
}

// fill the input blobs and load the image if given
func initInputs(q num.Queue, net *nnet.Network, opt *options) error {
	if err := net.InitInputs(q); err != nil {
		return err
	}
	if opt.image == "" {
		return nil
	}
	b := net.Blob(opt.input)
	if b == nil {
		return errors.Errorf("input blob %q not found", opt.input)
	}
	m, err := img.Load(opt.image)
	if err != nil {
		return err
	}
	opt.imageSize = m.Bounds().Size()
	for i := 0; i < b.Num(); i++ {
		if err := img.ToBlob(m, b, i, img.MeanBGR); err != nil {
			return err
		}
	}
	return nil
}

func run(q num.Queue, net *nnet.Network, opt *options) error {
	var seg *stats.SegStats
	var counts *num.Blob
	for i, layer := range net.Layers {
		if layer.Type() == "parseEvaluate" {
			_, top := net.Blobs(i)
			counts = top[0]
			seg = stats.NewSegStats(counts.Channels())
		}
	}
	var timer stats.Average
	var loss stats.EMA
	var losses []float64
	for i := 0; i < opt.iter; i++ {
		start := time.Now()
		l, err := net.Forward(q)
		if err != nil {
			return err
		}
		if opt.backward {
			net.Backward(q)
		}
		timer.Add(time.Since(start).Seconds() * 1000)
		loss = loss.Add(float64(l), 10)
		losses = append(losses, float64(l))
		if seg != nil {
			seg.Add(counts.Values())
		}
		if net.DebugLevel >= 1 {
			fmt.Printf("iter %d: loss %.4f\n", i+1, l)
		}
	}
	fmt.Printf("%d iterations: time per iter %s ms  loss %.4f\n", opt.iter, &timer, loss)
	if seg != nil {
		fmt.Println(seg)
	}
	if net.DebugLevel >= 1 {
		net.PrintWeights(q)
	}
	if opt.lossPlot != "" {
		p, err := view.LinePlot("loss", []string{"loss"}, losses)
		if err != nil {
			return err
		}
		return view.SaveSVG(opt.lossPlot, p, 600, 400)
	}
	return nil
}

// write heat map and segmentation images
func output(q num.Queue, net *nnet.Network, opt *options) error {
	q.Finish()
	if opt.plot != "" {
		b := net.Blob(opt.plot)
		if b == nil {
			return errors.Errorf("blob %q not found", opt.plot)
		}
		if b.Count() == 0 {
			return errors.Errorf("blob %q is empty", opt.plot)
		}
		title := b.Name
		if opt.plotGrad {
			title += " gradient"
		}
		p := view.HeatMap(title, view.NewPlane(b, 0, 0, opt.plotGrad))
		if err := view.SaveSVG(opt.svg, p, 5*b.Width()+100, 5*b.Height()+100); err != nil {
			return err
		}
		fmt.Println("saved heat map to", opt.svg)
	}
	if opt.seg == "" {
		return nil
	}
	var labels *num.Blob
	for i, layer := range net.Layers {
		if layer.Type() == "parseOutput" {
			_, top := net.Blobs(i)
			labels = top[0]
		}
	}
	if labels == nil {
		return errors.New("no parseOutput layer in network")
	}
	pal := img.VOCPalette(256)
	if opt.palette != "" {
		var err error
		if pal, err = img.LoadPalette(filepath.Join(nnet.DataDir, opt.palette)); err != nil {
			return err
		}
	}
	var m image.Image = pal.Render(labels.Plane(0, 0), labels.Width(), labels.Height())
	if opt.imageSize.X > 0 {
		m = img.Resize(m, opt.imageSize.X, opt.imageSize.Y)
	}
	if err := img.Save(opt.seg, m); err != nil {
		return err
	}
	fmt.Println("saved segmentation to", opt.seg)
	return nil
}

// Models command writes the example network configs and label embedding table to DataDir.
package main

import (
	"flag"
	"fmt"
	"github.com/jnb666/segnet/nnet"
	"gonum.org/v1/gonum/mat"
	"math/rand"
	"os"
)

const (
	vocLabels = 21
	embedDim  = 8
)

func main() {
	var seed int64
	flag.Int64Var(&seed, "seed", 1, "random number seed for embedding table")
	flag.Parse()
	nnet.CheckErr(os.MkdirAll(nnet.DataDir, 0755))

	// random unit norm embedding for each PASCAL VOC label
	rng := rand.New(rand.NewSource(seed))
	table := mat.NewDense(vocLabels, embedDim, nil)
	for i := 0; i < vocLabels; i++ {
		row := table.RawRowView(i)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		v := mat.NewVecDense(embedDim, row)
		v.ScaleVec(1/mat.Norm(v, 2), v)
	}
	nnet.CheckErr(nnet.SaveWord2Vec("voc_vectors.txt", table))

	// upsample and parse the highest scoring channel at each pixel
	unpool := nnet.Config{Name: "voc_unpool", Threads: 4}.
		AddInput("data", 1, 3, 32, 32).
		AddLayers(
			nnet.NewBatchNorm().Marshal().Connect("bn", []string{"data"}, "norm"),
			nnet.UnPool{Method: nnet.Rep, KernelSize: 2, Stride: 2}.Marshal().Connect("unpool", []string{"norm"}, "up"),
			nnet.ParseOutput{}.Marshal().Connect("parse", []string{"up"}, "pred", "score"),
		)
	fmt.Println(unpool)
	nnet.CheckErr(unpool.Save("voc_unpool.net"))

	// embed pooled features and score against the label table
	embed := nnet.Config{Name: "voc_embed", Threads: 4}.
		AddInput("image", 4, embedDim, 16, 16).
		AddInput("group", 4, 1, 16, 16).
		AddInput("feat", 16, embedDim, 1, 1).
		AddInput("label", 16, 1, 1, 1).
		AddInput("truth", 4, 1, 16, 16).
		FillInput("group", nnet.FillerConfig{Type: "label", Max: 4}).
		FillInput("label", nnet.FillerConfig{Type: "label", Max: vocLabels}).
		FillInput("truth", nnet.FillerConfig{Type: "label", Max: embedDim}).
		AddLayers(
			nnet.NewBatchNorm().Marshal().Connect("bn", []string{"feat"}, "norm"),
			nnet.HingeRankLoss{Margin: 0.1, Word2Vec: "voc_vectors.txt"}.Marshal().Connect("loss", []string{"norm", "label"}, "loss"),
			nnet.Grouping{}.Marshal().Connect("grouping", []string{"image", "group"}, "grouped"),
			nnet.ParseOutput{}.Marshal().Connect("parse", []string{"grouped"}, "pred"),
			nnet.ParseEvaluate{NumLabels: embedDim}.Marshal().Connect("eval", []string{"pred", "truth"}, "counts"),
		)
	fmt.Println(embed)
	nnet.CheckErr(embed.Save("voc_embed.net"))
}

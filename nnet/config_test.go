package nnet

import (
	"bytes"
	"github.com/jnb666/segnet/num"
	"reflect"
	"strings"
	"testing"
)

func TestConfigSave(t *testing.T) {
	setDataDir(t)
	conf := testConfig()
	conf.Phase = Test
	if err := conf.Save("test.net"); err != nil {
		t.Fatal(err)
	}
	conf2, err := LoadConfig("test.net")
	if err != nil {
		t.Fatal(err)
	}
	t.Log(conf2)
	if conf.String() != conf2.String() || !reflect.DeepEqual(conf.Inputs, conf2.Inputs) {
		t.Errorf("config mismatch:\n%s\n%s", conf, conf2)
	}
	if _, err := LoadConfig("missing.net"); err == nil {
		t.Error("expecting error for missing file")
	}
}

func TestConfigSet(t *testing.T) {
	conf := Config{Name: "test"}
	fields := conf.Fields()
	t.Log(fields)
	if !reflect.DeepEqual(fields, []string{"Name", "Phase", "Threads", "RandSeed", "DebugLevel", "Profile"}) {
		t.Errorf("invalid fields %v", fields)
	}
	var err error
	settings := [][2]string{
		{"Phase", "TEST"},
		{"Threads", "4"},
		{"RandSeed", "99"},
		{"DebugLevel", "2"},
		{"Profile", "true"},
		{"Name", "other"},
	}
	for _, s := range settings {
		if conf, err = conf.SetString(s[0], s[1]); err != nil {
			t.Fatal(err)
		}
	}
	expect := Config{Name: "other", Phase: Test, Threads: 4, RandSeed: 99, DebugLevel: 2, Profile: true}
	if !reflect.DeepEqual(conf, expect) {
		t.Errorf("expecting %+v got %+v", expect, conf)
	}
	if conf.Get("Threads").(int) != 4 {
		t.Errorf("Get: expecting 4 got %v", conf.Get("Threads"))
	}
	if conf, err = conf.SetBool("Profile", false); err != nil || conf.Profile {
		t.Errorf("SetBool failed: %v", err)
	}
	for _, s := range [][2]string{{"Threads", "x"}, {"Phase", "validate"}, {"Unknown", "1"}, {"Inputs", "1"}} {
		if _, err = conf.SetString(s[0], s[1]); err == nil {
			t.Errorf("expecting error setting %s to %s", s[0], s[1])
		} else {
			t.Log(err)
		}
	}
	if _, err = conf.SetBool("Threads", true); err == nil {
		t.Error("expecting SetBool error")
	}
}

func TestLayerConfig(t *testing.T) {
	layers := []ConfigLayer{
		UnPool{Method: Div, KernelSize: 3, Stride: 2},
		NewBatchNorm(),
		Grouping{},
		HingeRankLoss{Margin: 0.1, Word2Vec: "vectors.txt"},
		Evaluate{Word2Vec: "vectors.txt", NumLabels: 3},
		ParseEvaluate{NumLabels: 21, IgnoreLabel: []int{255}},
		ParseOutput{},
	}
	for _, conf := range layers {
		lc := conf.Marshal().Connect("layer", []string{"in"}, "out")
		t.Log(lc)
		layer, err := lc.Unmarshal()
		if err != nil {
			t.Fatal(err)
		}
		if layer.Type() != lc.Type {
			t.Errorf("expecting type %s got %s", lc.Type, layer.Type())
		}
		if !strings.HasPrefix(layer.ToString(), lc.Type) {
			t.Errorf("invalid description %q", layer.ToString())
		}
	}
	_, err := LayerConfig{Type: "unpool", Data: []byte(`{"Method":"MAX"}`)}.Unmarshal()
	if err == nil {
		t.Error("expecting error for invalid unpool method")
	} else {
		t.Log(err)
	}
}

func TestPhase(t *testing.T) {
	var p Phase
	if err := p.UnmarshalText([]byte("test")); err != nil || p != Test {
		t.Errorf("unmarshal test phase: %v %v", p, err)
	}
	text, _ := Train.MarshalText()
	if !bytes.Equal(text, []byte("train")) {
		t.Errorf("expecting train got %s", text)
	}
}

func TestFiller(t *testing.T) {
	SetSeed(42)
	q := dev.NewQueue(1)
	a := q.NewArray(num.Float32, 1000)
	tests := []struct {
		conf     FillerConfig
		min, max float32
	}{
		{FillerConfig{Value: 3}, 3, 3},
		{FillerConfig{Type: "uniform", Min: -1, Max: 2}, -1, 2},
		{FillerConfig{Type: "gaussian", Mean: 10, Std: 0.1}, 9, 11},
		{FillerConfig{Type: "label", Min: 1, Max: 4}, 1, 3},
	}
	for _, test := range tests {
		fill, err := test.conf.Fill(a)
		if err != nil {
			t.Fatal(err)
		}
		q.Call(fill).Finish()
		var sum float32
		for _, v := range a.Float32s() {
			if v < test.min || v > test.max {
				t.Fatalf("%s: value %g out of range", test.conf, v)
			}
			if test.conf.Type == "label" && v != float32(int(v)) {
				t.Fatalf("%s: value %g is not an integer", test.conf, v)
			}
			sum += v
		}
		t.Logf("%s: mean=%.3f", test.conf, sum/1000)
	}
	for _, conf := range []FillerConfig{{Type: "xavier"}, {Type: "uniform", Min: 1, Max: 0}, {Type: "gaussian", Std: -1}, {Type: "label", Min: 2, Max: 2}} {
		if _, err := conf.Fill(a); err == nil {
			t.Errorf("expecting error for %+v", conf)
		}
	}
}

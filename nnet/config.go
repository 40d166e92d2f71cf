package nnet

import (
	"encoding"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
)

// Directory for config and data files, set from SEGNET_DATA environment variable
var DataDir = dataDir()

func dataDir() string {
	if dir := os.Getenv("SEGNET_DATA"); dir != "" {
		return dir
	}
	return "data"
}

// Network configuration settings
type Config struct {
	Name       string
	Phase      Phase
	Threads    int
	RandSeed   int64
	DebugLevel int
	Profile    bool
	Inputs     []InputConfig
	Layers     []LayerConfig
}

// Input blob with fixed (num, channels, height, width) shape. If Filler is not set
// the driver initialises the values from a unit gaussian.
type InputConfig struct {
	Name   string
	Shape  [4]int
	Filler *FillerConfig `json:",omitempty"`
}

// Load network from json file under DataDir
func LoadConfig(name string) (c Config, err error) {
	filePath := filepath.Join(DataDir, name)
	f, err := os.Open(filePath)
	if err != nil {
		return c, errors.Wrap(err, "load config")
	}
	defer f.Close()
	fmt.Println("loading network config from", name)
	dec := json.NewDecoder(f)
	if err = dec.Decode(&c); err != nil {
		return c, errors.Wrapf(err, "decode config %s", filePath)
	}
	return c, nil
}

// Append an input blob definition
func (c Config) AddInput(name string, n, ch, h, w int) Config {
	c.Inputs = append(c.Inputs, InputConfig{Name: name, Shape: [4]int{n, ch, h, w}})
	return c
}

// Set the filler used to initialise the named input
func (c Config) FillInput(name string, f FillerConfig) Config {
	inputs := make([]InputConfig, len(c.Inputs))
	copy(inputs, c.Inputs)
	for i := range inputs {
		if inputs[i].Name == name {
			inputs[i].Filler = &f
		}
	}
	c.Inputs = inputs
	return c
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...LayerConfig) Config {
	c.Layers = append(c.Layers, layers...)
	return c
}

// Save config to JSON file under DataDir
func (c Config) Save(name string) error {
	filePath := filepath.Join(DataDir, "."+name)
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrap(err, "save config")
	}
	fmt.Println("saving network config to", name)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return errors.Wrap(err, "save config")
	}
	f.Close()
	return os.Rename(filePath, filepath.Join(DataDir, name))
}

// Fields returns the names of the scalar settings
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-2)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) configString() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

func (c Config) String() string {
	s := c.configString()
	if c.Inputs != nil {
		str := []string{"\n== Inputs =="}
		for _, in := range c.Inputs {
			str = append(str, fmt.Sprintf("%-12s %v", in.Name, in.Shape))
		}
		s += strings.Join(str, "\n")
	}
	if c.Layers != nil {
		str := []string{"\n== Layers =="}
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
		s += strings.Join(str, "\n")
	}
	return s
}

func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, errors.Errorf("invalid config key %q", key)
	}
	if u, ok := f.Addr().Interface().(encoding.TextUnmarshaler); ok {
		err := u.UnmarshalText([]byte(val))
		return c, err
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	case reflect.String:
		f.SetString(val)
	default:
		return c, errors.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, errors.Wrapf(err, "set %s", key)
}

func (c Config) SetBool(key string, val bool) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if f.IsValid() && f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, errors.Errorf("invalid type for SetBool: %s", key)
}

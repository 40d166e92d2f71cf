package nnet

import (
	"bufio"
	"fmt"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// LoadWord2Vec reads a label embedding table from a text file. The file holds the
// embedding dimension, the number of classes and then classes*dim values in row major
// order. A relative path is taken to be under DataDir. Returns a classes x dim matrix.
func LoadWord2Vec(name string) (*mat.Dense, error) {
	filePath := name
	if !filepath.IsAbs(name) {
		filePath = filepath.Join(DataDir, name)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "word2vec")
	}
	defer f.Close()
	m, err := ReadWord2Vec(f)
	return m, errors.Wrapf(err, "word2vec %s", filePath)
}

// ReadWord2Vec parses a label embedding table from r.
func ReadWord2Vec(r io.Reader) (*mat.Dense, error) {
	s := bufio.NewScanner(r)
	s.Split(bufio.ScanWords)
	next := func() (string, error) {
		if !s.Scan() {
			if err := s.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return s.Text(), nil
	}
	var dims [2]int
	for i := range dims {
		tok, err := next()
		if err != nil {
			return nil, errors.Wrap(err, "reading header")
		}
		if dims[i], err = strconv.Atoi(tok); err != nil {
			return nil, errors.Wrap(err, "reading header")
		}
		if dims[i] <= 0 {
			return nil, errors.Errorf("invalid header value %d", dims[i])
		}
	}
	labelDim, classNum := dims[0], dims[1]
	data := make([]float64, classNum*labelDim)
	for i := range data {
		tok, err := next()
		if err != nil {
			return nil, errors.Wrapf(err, "reading value %d of %d", i, len(data))
		}
		if data[i], err = strconv.ParseFloat(tok, 64); err != nil {
			return nil, errors.Wrapf(err, "reading value %d", i)
		}
	}
	return mat.NewDense(classNum, labelDim, data), nil
}

// WriteWord2Vec writes a classes x dim embedding table in the format read by ReadWord2Vec.
func WriteWord2Vec(w io.Writer, m mat.Matrix) error {
	classNum, labelDim := m.Dims()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", labelDim, classNum)
	for i := 0; i < classNum; i++ {
		for j := 0; j < labelDim; j++ {
			if j > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(m.At(i, j), 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// SaveWord2Vec writes the table to a file under DataDir.
func SaveWord2Vec(name string, m mat.Matrix) error {
	f, err := os.Create(filepath.Join(DataDir, name))
	if err != nil {
		return errors.Wrap(err, "word2vec")
	}
	if err = WriteWord2Vec(f, m); err != nil {
		f.Close()
		return errors.Wrapf(err, "word2vec %s", name)
	}
	return f.Close()
}

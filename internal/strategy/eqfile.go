package strategy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lox/egta/internal/fileutil"
)

// EquilibriumPath is where the role's mixture for epoch K is kept.
func EquilibriumPath(runDir string, role Role, epoch int) string {
	return filepath.Join(runDir, "eq", fmt.Sprintf("%s_epoch%d.tsv", role, epoch))
}

// EncodeMixture writes one "<strategy>\t<probability>" line per name in order.
func EncodeMixture(w io.Writer, order []string, m Mixture) error {
	bw := bufio.NewWriter(w)
	for _, name := range order {
		p, ok := m[name]
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", name, strconv.FormatFloat(p, 'f', Precision, 64)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeMixture reads a mixture file and returns the mixture in file order.
func DecodeMixture(r io.Reader) (Mixture, []string, error) {
	m := Mixture{}
	var order []string
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		name, prob, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, nil, fmt.Errorf("line %d: expected <strategy>\\t<probability>", line)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(prob), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := m[name]; dup {
			return nil, nil, fmt.Errorf("line %d: duplicate strategy %q", line, name)
		}
		m[name] = p
		order = append(order, name)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return m, order, nil
}

// WriteMixtureFile writes the mixture atomically.
func WriteMixtureFile(path string, order []string, m Mixture) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	var buf bytes.Buffer
	if err := EncodeMixture(&buf, order, m); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// ReadMixtureFile loads and validates a mixture file.
func ReadMixtureFile(path string) (Mixture, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	m, order, err := DecodeMixture(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, order, nil
}

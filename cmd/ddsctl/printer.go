package main

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// printer serializes samples from concurrent callbacks onto one writer
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	indent bool
}

func newPrinter(w io.Writer, indent bool) *printer {
	return &printer{w: w, indent: indent}
}

// value prints v as JSON under a header line
func (p *printer) value(header string, v map[string]any) error {
	var (
		data []byte
		err  error
	)
	if p.indent {
		data, err = json.MarshalIndent(v, "", "    ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	var buf bytes.Buffer
	if header != "" {
		buf.WriteString(header)
		buf.WriteByte('\n')
	}
	buf.Write(data)
	buf.WriteByte('\n')
	if p.indent {
		buf.WriteByte('\n')
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.w.Write(buf.Bytes())
	return err
}

// event prints a one-line state change
func (p *printer) event(topic, what string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s %s ...\n", topic, what)
	return err
}

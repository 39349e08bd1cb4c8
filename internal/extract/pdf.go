package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const pdfTool = "pdftotext"

var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDF extracts the text layer with poppler's pdftotext.
type PDF struct {
	runner  CommandRunner
	tempDir string
}

func NewPDF() (*PDF, error) {
	if err := CheckPDFTool(); err != nil {
		return nil, err
	}
	return &PDF{runner: execRunner{}}, nil
}

func NewPDFWithRunner(r CommandRunner) *PDF {
	return &PDF{runner: r}
}

func CheckPDFTool() error {
	if _, err := exec.LookPath(pdfTool); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

func PDFInstallInstructions() string {
	return "dok-tok reads PDFs with pdftotext from poppler.\n" +
		"  macOS:  brew install poppler\n" +
		"  Debian: apt install poppler-utils\n" +
		"  Alpine: apk add poppler-utils"
}

// Extract writes the document to a temp file and returns the text with
// pages joined by newlines.
func (p *PDF) Extract(ctx context.Context, doc Document) (string, error) {
	f, err := os.CreateTemp(p.tempDir, "doktok-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(doc.Data); err != nil {
		f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	out, err := p.runner.Run(ctx, pdfTool, "-enc", "UTF-8", f.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}

	pages := strings.Split(strings.TrimRight(string(out), "\f\n"), "\f")
	for i := range pages {
		pages[i] = strings.TrimRight(pages[i], "\n")
	}
	return strings.Join(pages, "\n"), nil
}

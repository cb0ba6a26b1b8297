package convert

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// pdfToText extracts the text layer page by page. Pages are introduced with a
// "## Page N" heading so the model can report page numbers.
func pdfToText(content []byte) (string, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i+1, err)
		}
		fmt.Fprintf(&b, "## Page %d\n\n%s\n\n", i+1, strings.TrimSpace(text))
	}
	return normalizeBlankLines(b.String()), nil
}

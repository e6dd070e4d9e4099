// Package samplepdf writes small, well-formed PDF documents: one 16:9 page
// per title, each showing its title in Helvetica. They are used to probe
// rasterization libraries at startup and as fixtures in tests.
package samplepdf

import (
	"bytes"
	"fmt"
	"strings"
)

// Build returns a PDF with one page per title.
func Build(titles ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	// 1 catalog, 2 page tree, 3 font, then a page and content stream per title
	total := 4 + 2*len(titles)
	offsets := make([]int, total)
	write := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := make([]string, len(titles))
	for i := range titles {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	write(1, "<< /Type /Catalog /Pages 2 0 R >>")
	write(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(titles)))
	write(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, title := range titles {
		page := 4 + 2*i
		content := page + 1
		write(page, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 640 360] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", content))
		stream := fmt.Sprintf("BT /F1 24 Tf 72 288 Td (%s) Tj ET", escape(title))
		write(content, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", total)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < total; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total, xref)
	return buf.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

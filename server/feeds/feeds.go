// Package feeds contains streaming decoders for the external vulnerability
// feeds: EPSS CSV, ExploitDB CSV, NVD-shaped CVE JSON, Metasploit module
// metadata JSON and the host inventory CSV. Decoders skip malformed rows
// (tallied, never fatal) and fail only on structural errors such as a
// missing header.
package feeds

import (
	"bufio"
	"io"
	"regexp"
)

// CVERegexp matches a well-formed CVE identifier; tokens that fail it are
// dropped at ingest.
var CVERegexp = regexp.MustCompile(`^CVE-\d{4}-\d+$`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// bomStrippedReader returns r with a leading UTF-8 BOM removed, if present.
func bomStrippedReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	lead, err := br.Peek(3)
	if err == nil && lead[0] == utf8BOM[0] && lead[1] == utf8BOM[1] && lead[2] == utf8BOM[2] {
		br.Discard(3)
	}
	return br
}

// CountLines counts newline-terminated lines in r, used to report
// total_records before a CSV import starts.
func CountLines(r io.Reader) (int, error) {
	var count int
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				count++
			}
		}
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

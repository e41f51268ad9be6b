package cache

import (
	"bufio"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

const sniffLimit = 3072

// detect peeks at the head of r without consuming it and returns a reader
// that still yields the full stream.
func detect(r io.Reader) (*mimetype.MIME, io.Reader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	peeked, err := br.Peek(sniffLimit)
	if err != nil && err != io.EOF {
		return nil, nil, err
	}
	return mimetype.Detect(peeked), br, nil
}

func detectFile(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return mt.String()
}

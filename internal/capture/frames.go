package capture

import (
	"bufio"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single JPEG frame.
const maxFrameBytes = 10 << 20

// jpegSplitter cuts a stream of concatenated JPEG images (ffmpeg image2pipe
// output) into individual frames using the SOI (FF D8) and EOI (FF D9) markers.
type jpegSplitter struct {
	r *bufio.Reader
}

func newJPEGSplitter(r io.Reader) *jpegSplitter {
	return &jpegSplitter{r: bufio.NewReaderSize(r, 512*1024)}
}

// Next returns the next complete frame, or io.EOF when the stream ends
// between frames.
func (s *jpegSplitter) Next() ([]byte, error) {
	if err := s.skipToStart(); err != nil {
		return nil, err
	}
	return s.readToEnd()
}

func (s *jpegSplitter) skipToStart() error {
	prev := byte(0)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}

func (s *jpegSplitter) readToEnd() ([]byte, error) {
	frame := []byte{0xFF, 0xD8}
	prev := byte(0)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		frame = append(frame, b)
		if prev == 0xFF && b == 0xD9 {
			return frame, nil
		}
		prev = b

		if len(frame) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameBytes)
		}
	}
}

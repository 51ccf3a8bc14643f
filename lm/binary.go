package lm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

const (
	binaryMagic   = "NGLM"
	binaryVersion = 1

	// binaryPreamble is the magic, the version and the header length.
	binaryPreamble = 12
)

// binaryHeader describes the packed tables that follow it.
type binaryHeader struct {
	Order        int      `cbor:"order"`
	Counts       []uint64 `cbor:"counts"`
	Quantization string   `cbor:"quantization"`
	Vocabulary   []string `cbor:"vocabulary"`

	// Sections is the byte length of the unigram table followed by each
	// n-gram table in increasing order.
	Sections []uint64 `cbor:"sections"`
}

func align8(n int) int {
	return (n + 7) &^ 7
}

func isBinary(magic []byte) bool {
	return string(magic) == binaryMagic
}

func writeBinary(w io.Writer, b *builder, q Quantization) error {
	unigrams, tables, err := encodePacked(b, q)
	if err != nil {
		return err
	}

	hdr := binaryHeader{
		Order:        b.order,
		Counts:       b.counts(),
		Quantization: q.String(),
		Vocabulary:   b.vocab.words,
		Sections:     []uint64{uint64(len(unigrams))},
	}
	for _, t := range tables {
		hdr.Sections = append(hdr.Sections, uint64(len(t)))
	}

	hb, err := cbor.Marshal(hdr)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)

	var preamble [binaryPreamble]byte
	copy(preamble[:], binaryMagic)
	binary.LittleEndian.PutUint32(preamble[4:], binaryVersion)
	binary.LittleEndian.PutUint32(preamble[8:], uint32(len(hb)))

	if _, err := bw.Write(preamble[:]); err != nil {
		return err
	}

	if _, err := bw.Write(hb); err != nil {
		return err
	}

	n := binaryPreamble + len(hb)
	if _, err := bw.Write(make([]byte, align8(n)-n)); err != nil {
		return err
	}

	if _, err := bw.Write(unigrams); err != nil {
		return err
	}

	for _, t := range tables {
		if _, err := bw.Write(t); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func readFile(f *os.File, size int64) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}

	return data, func() error { return nil }, nil
}

func loadBinary(f *os.File, size int64, cfg Config) (_ *vocabulary, _ *packedStore, _ binaryHeader, err error) {
	read := readFile
	if cfg.Mmap {
		read = mapFile
	}

	data, release, err := read(f, size)
	if err != nil {
		return nil, nil, binaryHeader{}, err
	}

	defer func() {
		if err != nil {
			release()
		}
	}()

	vocab, s, hdr, err := decodeBinary(data, cfg)
	if err != nil {
		return nil, nil, hdr, err
	}

	s.release = release
	return vocab, s, hdr, nil
}

func decodeBinary(data []byte, cfg Config) (*vocabulary, *packedStore, binaryHeader, error) {
	var hdr binaryHeader
	if len(data) < binaryPreamble || !isBinary(data[:4]) {
		return nil, nil, hdr, ErrUnsupportedFormat
	}

	if v := binary.LittleEndian.Uint32(data[4:]); v != binaryVersion {
		return nil, nil, hdr, fmt.Errorf("%w: binary version %d", ErrUnsupportedFormat, v)
	}

	hlen := int(binary.LittleEndian.Uint32(data[8:]))
	if hlen > len(data)-binaryPreamble {
		return nil, nil, hdr, formatErrorf(0, "truncated header")
	}

	if err := cbor.Unmarshal(data[binaryPreamble:binaryPreamble+hlen], &hdr); err != nil {
		return nil, nil, hdr, formatErrorf(0, "malformed header: %v", err)
	}

	if hdr.Order < 1 || len(hdr.Counts) != hdr.Order || len(hdr.Sections) != hdr.Order {
		return nil, nil, hdr, formatErrorf(0, "inconsistent header for order %d", hdr.Order)
	}

	if hdr.Order > cfg.maxOrder() {
		return nil, nil, hdr, fmt.Errorf("%w: model has order %d, maximum is %d", ErrUnsupportedOrder, hdr.Order, cfg.maxOrder())
	}

	q, err := ParseQuantization(hdr.Quantization)
	if err != nil {
		return nil, nil, hdr, formatErrorf(0, "%v", err)
	}

	vocab, err := vocabularyFromWords(hdr.Vocabulary)
	if err != nil {
		return nil, nil, hdr, err
	}

	off := uint64(align8(binaryPreamble + hlen))
	sections := make([][]byte, len(hdr.Sections))
	for i, n := range hdr.Sections {
		if off+n > uint64(len(data)) || off+n < off {
			return nil, nil, hdr, formatErrorf(0, "section %d extends past end of file", i)
		}
		sections[i] = data[off : off+n]
		off += n
	}

	s, err := newPackedStore(q, vocab.Size(), hdr.Counts, sections[0], sections[1:])
	if err != nil {
		return nil, nil, hdr, err
	}

	return vocab, s, hdr, nil
}

// ConvertOptions control Convert.
type ConvertOptions struct {
	Quantization Quantization

	// Config is used to read the input. Only MaxOrder and UnknownLogProb
	// are relevant.
	Config Config
}

// Convert reads an ARPA model from src, which may be compressed, and writes
// it to dst in the packed binary format. dst is replaced atomically.
func Convert(src, dst string, opts ConvertOptions) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closer, err := decompress(f)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	defer closer()

	b, err := readARPA(r, opts.Config)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeBinary(tmp, b, opts.Quantization); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}

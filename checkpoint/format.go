package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/hupe1980/localagg/codec"
	"github.com/hupe1980/localagg/nn"
)

// StateKey is the document key holding the encoder weights.
const StateKey = "model_state_dict"

const (
	formatVersion = 1
	fixedHeader   = 4 + 1 + 1 + 1 // magic, version, compression, codec length
	sizeTrailer   = 8 + 4         // raw size, checksum
)

var magic = [4]byte{'L', 'A', 'G', 'C'}

// ErrCorrupt is returned when a blob is not a readable checkpoint.
var ErrCorrupt = errors.New("checkpoint: corrupt")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Metadata describes where in training a checkpoint was taken.
type Metadata struct {
	Label   string    `json:"label,omitempty"`
	Epoch   int       `json:"epoch"`
	Loss    float64   `json:"loss"`
	Dim     int       `json:"dim,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// document is the encoded body of a checkpoint.
type document struct {
	ModelStateDict nn.StateDict `json:"model_state_dict"`
	Meta           Metadata     `json:"meta"`
}

func encode(doc *document, c codec.Codec, comp Compression) ([]byte, error) {
	raw, err := c.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode with %s: %w", c.Name(), err)
	}

	payload, applied, err := compress(raw, comp)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: compress: %w", err)
	}

	name := c.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("checkpoint: codec name %q too long", name)
	}

	buf := make([]byte, 0, fixedHeader+len(name)+sizeTrailer+len(payload))
	buf = append(buf, magic[:]...)
	buf = append(buf, formatVersion, byte(applied), byte(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(raw)))
	buf = binary.LittleEndian.AppendUint32(buf, crc32.Checksum(raw, castagnoli))
	buf = append(buf, payload...)
	return buf, nil
}

func decode(data []byte) (*document, string, error) {
	if len(data) < fixedHeader || [4]byte(data[:4]) != magic {
		return nil, "", fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := data[4]; v != formatVersion {
		return nil, "", fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	comp := Compression(data[5])
	nameLen := int(data[6])

	off := fixedHeader
	if len(data) < off+nameLen+sizeTrailer {
		return nil, "", fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	name := string(data[off : off+nameLen])
	off += nameLen

	c, ok := codec.ByName(name)
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown codec %q", ErrCorrupt, name)
	}

	rawSize := binary.LittleEndian.Uint64(data[off:])
	sum := binary.LittleEndian.Uint32(data[off+8:])
	off += sizeTrailer
	if rawSize > 1<<40 {
		return nil, "", fmt.Errorf("%w: implausible size %d", ErrCorrupt, rawSize)
	}

	raw, err := decompress(data[off:], comp, int(rawSize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if crc32.Checksum(raw, castagnoli) != sum {
		return nil, "", fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var doc document
	if err := c.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.ModelStateDict == nil {
		return nil, "", fmt.Errorf("%w: missing %s", ErrCorrupt, StateKey)
	}
	for k, t := range doc.ModelStateDict {
		if err := t.Validate(); err != nil {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrCorrupt, k, err)
		}
	}
	return &doc, name, nil
}

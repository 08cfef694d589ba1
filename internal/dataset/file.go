package dataset

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Dataset files are a single CBOR document using Core Deterministic
// Encoding, optionally compressed according to the file extension:
//
//	*.cbor      uncompressed
//	*.cbor.zst  zstd
//	*.cbor.lz4  lz4 frame
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("dataset: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("dataset: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("dataset: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("dataset: zstd decoder initialization failed: " + err.Error())
	}
}

// Compression selects the on-disk encoding of a dataset file.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// CompressionForPath picks the compression from the file extension.
func CompressionForPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Marshal encodes d as deterministic CBOR.
func Marshal(d *Dataset) ([]byte, error) {
	return encMode.Marshal(d)
}

// Unmarshal decodes a CBOR dataset and validates it.
func Unmarshal(data []byte) (*Dataset, error) {
	var d Dataset
	if err := decMode.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding dataset: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Encode writes d to w using compression c.
func Encode(w io.Writer, d *Dataset, c Compression) error {
	raw, err := Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding dataset %q: %w", d.Name, err)
	}
	switch c {
	case CompressionNone, "":
		_, err = w.Write(raw)
		return err
	case CompressionZstd:
		_, err = w.Write(zstdEncoder.EncodeAll(raw, nil))
		return err
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		if _, err := zw.Write(raw); err != nil {
			return fmt.Errorf("lz4 compress: %w", err)
		}
		return zw.Close()
	default:
		return fmt.Errorf("unknown compression %q", c)
	}
}

// Decode reads a dataset from r using compression c.
func Decode(r io.Reader, c Compression) (*Dataset, error) {
	var raw []byte
	var err error
	switch c {
	case CompressionNone, "":
		raw, err = io.ReadAll(r)
	case CompressionZstd:
		var compressed []byte
		compressed, err = io.ReadAll(r)
		if err == nil {
			raw, err = zstdDecoder.DecodeAll(compressed, nil)
			if err != nil {
				err = fmt.Errorf("zstd decompress: %w", err)
			}
		}
	case CompressionLZ4:
		raw, err = io.ReadAll(lz4.NewReader(r))
		if err != nil {
			err = fmt.Errorf("lz4 decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

// ReadFile loads a dataset, choosing decompression from the extension.
// A dataset stored without a name takes the file's base name.
func ReadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := Decode(f, CompressionForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = datasetNameFromPath(path)
	}
	return d, nil
}

// WriteFile stores d at path atomically, choosing compression from the
// extension. Readers never observe a partially written file.
func WriteFile(path string, d *Dataset) error {
	var buf bytes.Buffer
	if err := Encode(&buf, d, CompressionForPath(path)); err != nil {
		return err
	}
	return WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// WriteFileAtomic writes data to a temp file in the target directory,
// syncs it, renames it into place and syncs the directory.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename is already
	// visible at that point.
	_ = d.Sync()
	return nil
}

func datasetNameFromPath(path string) string {
	base := filepath.Base(path)
	for {
		ext := filepath.Ext(base)
		if ext == "" || ext == base {
			return base
		}
		base = strings.TrimSuffix(base, ext)
	}
}

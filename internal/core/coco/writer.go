package coco

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/agenthands/annobridge/internal/core/model"
)

const annotationsEntry = "annotations/instances.json"

type WriteOptions struct {
	Pretty bool
	// Store writes zip entries uncompressed.
	Store bool
}

type Writer struct {
	Options WriteOptions
}

func NewWriter(opts WriteOptions) *Writer {
	return &Writer{Options: opts}
}

// ImageFile is an image payload bundled into a zip export under images/.
type ImageFile struct {
	Name string
	Data []byte
}

func (w *Writer) Encode(ds *model.CocoDataset) ([]byte, error) {
	normalize(ds)
	var (
		data []byte
		err  error
	)
	if w.Options.Pretty {
		data, err = json.MarshalIndent(ds, "", "  ")
	} else {
		data, err = json.Marshal(ds)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode COCO dataset: %w", err)
	}
	return data, nil
}

func (w *Writer) WriteJSON(ds *model.CocoDataset, path string) error {
	data, err := w.Encode(ds)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write COCO file '%s': %w", path, err)
	}
	return nil
}

func (w *Writer) WriteZip(ds *model.CocoDataset, path string, images []ImageFile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive '%s': %w", path, err)
	}
	if err := w.WriteZipTo(f, ds, images); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteZipTo writes annotations/instances.json plus image payloads.
func (w *Writer) WriteZipTo(out io.Writer, ds *model.CocoDataset, images []ImageFile) error {
	data, err := w.Encode(ds)
	if err != nil {
		return err
	}

	method := zip.Deflate
	if w.Options.Store {
		method = zip.Store
	}

	zw := zip.NewWriter(out)
	if err := writeEntry(zw, annotationsEntry, method, data); err != nil {
		return err
	}
	for _, img := range images {
		if err := writeEntry(zw, "images/"+img.Name, method, img.Data); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, method uint16, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("failed to create archive entry '%s': %w", name, err)
	}
	if _, err := io.Copy(fw, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write archive entry '%s': %w", name, err)
	}
	return nil
}

// normalize replaces nil sections with empty arrays so the output always
// carries the required top-level fields.
func normalize(ds *model.CocoDataset) {
	if ds.Images == nil {
		ds.Images = []model.CocoImage{}
	}
	if ds.Annotations == nil {
		ds.Annotations = []model.CocoAnnotation{}
	}
	if ds.Categories == nil {
		ds.Categories = []model.CocoCategory{}
	}
}

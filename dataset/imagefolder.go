package dataset

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/localagg/lagerr"
)

// DefaultPathColumn is the table-of-contents column holding image paths.
const DefaultPathColumn = "path"

type imageOptions struct {
	root        string
	pathColumn  string
	labelColumn string
	selector    map[string][]string
	iselector   []int
	width       int
	height      int
}

// ImageOption configures an ImageFolder.
type ImageOption func(*imageOptions)

// WithRoot resolves relative image paths against dir instead of the
// directory of the table of contents.
func WithRoot(dir string) ImageOption {
	return func(o *imageOptions) { o.root = dir }
}

// WithPathColumn sets the column holding image paths.
func WithPathColumn(name string) ImageOption {
	return func(o *imageOptions) { o.pathColumn = name }
}

// WithLabelColumn reads integer ground-truth labels from column name.
func WithLabelColumn(name string) ImageOption {
	return func(o *imageOptions) { o.labelColumn = name }
}

// WithSelector keeps only rows whose column has one of values.
// Several selectors must all match.
func WithSelector(column string, values ...string) ImageOption {
	return func(o *imageOptions) {
		if o.selector == nil {
			o.selector = make(map[string][]string)
		}
		o.selector[column] = append(o.selector[column], values...)
	}
}

// WithIndexSelector keeps only the given row positions (0-based, after the header),
// applied before WithSelector.
func WithIndexSelector(rows ...int) ImageOption {
	return func(o *imageOptions) { o.iselector = append(o.iselector, rows...) }
}

// WithSize sets the size every image is resampled to.
func WithSize(width, height int) ImageOption {
	return func(o *imageOptions) {
		o.width = width
		o.height = height
	}
}

// ImageFolder is a dataset of image files listed in a CSV table of contents.
// Images are decoded lazily, converted to grayscale, resampled to a fixed
// size and scaled to [0, 1].
type ImageFolder struct {
	paths  []string
	labels []int
	width  int
	height int
}

// NewImageFolder reads the table of contents at tocPath.
func NewImageFolder(tocPath string, optFns ...ImageOption) (*ImageFolder, error) {
	opts := imageOptions{
		root:       filepath.Dir(tocPath),
		pathColumn: DefaultPathColumn,
		width:      32,
		height:     32,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.width <= 0 || opts.height <= 0 {
		return nil, lagerr.Configf("image size must be positive, got %dx%d", opts.width, opts.height)
	}

	f, err := os.Open(tocPath)
	if err != nil {
		return nil, fmt.Errorf("dataset: open table of contents: %w", err)
	}
	defer func() { _ = f.Close() }()

	ds, err := readTOC(f, &opts)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", tocPath, err)
	}
	return ds, nil
}

func readTOC(r io.Reader, opts *imageOptions) (*ImageFolder, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, lagerr.Valuef("read header: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}

	pathIdx, ok := col[opts.pathColumn]
	if !ok {
		return nil, lagerr.Configf("no column %q in %v", opts.pathColumn, header)
	}
	labelIdx := -1
	if opts.labelColumn != "" {
		if labelIdx, ok = col[opts.labelColumn]; !ok {
			return nil, lagerr.Configf("no label column %q in %v", opts.labelColumn, header)
		}
	}
	for name := range opts.selector {
		if _, ok := col[name]; !ok {
			return nil, lagerr.Configf("no selector column %q in %v", name, header)
		}
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, lagerr.Valuef("read rows: %v", err)
	}

	if opts.iselector != nil {
		picked := make([][]string, 0, len(opts.iselector))
		for _, i := range opts.iselector {
			if i < 0 || i >= len(records) {
				return nil, &lagerr.IndexError{ID: uint64(i), Len: len(records)}
			}
			picked = append(picked, records[i])
		}
		records = picked
	}

	ds := &ImageFolder{width: opts.width, height: opts.height}
	for _, rec := range records {
		if !selected(rec, col, opts.selector) {
			continue
		}
		p := rec[pathIdx]
		if !filepath.IsAbs(p) {
			p = filepath.Join(opts.root, p)
		}
		label := NoLabel
		if labelIdx >= 0 {
			if label, err = strconv.Atoi(strings.TrimSpace(rec[labelIdx])); err != nil {
				return nil, lagerr.Valuef("label %q of %s is not an integer", rec[labelIdx], rec[pathIdx])
			}
		}
		ds.paths = append(ds.paths, p)
		ds.labels = append(ds.labels, label)
	}
	if len(ds.paths) == 0 {
		return nil, lagerr.Valuef("no rows selected")
	}
	return ds, nil
}

func selected(rec []string, col map[string]int, selector map[string][]string) bool {
	for name, values := range selector {
		if !slices.Contains(values, rec[col[name]]) {
			return false
		}
	}
	return true
}

// Len implements Dataset.
func (d *ImageFolder) Len() int { return len(d.paths) }

// Dim implements Dataset.
func (d *ImageFolder) Dim() int { return d.width * d.height }

// Path returns the file behind sample i.
func (d *ImageFolder) Path(i int) string { return d.paths[i] }

// Get implements Dataset.
func (d *ImageFolder) Get(i int) (Sample, error) {
	if i < 0 || i >= len(d.paths) {
		return Sample{}, &lagerr.IndexError{ID: uint64(i), Len: len(d.paths)}
	}

	f, err := os.Open(d.paths[i])
	if err != nil {
		return Sample{}, fmt.Errorf("dataset: sample %d: %w", i, err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return Sample{}, fmt.Errorf("dataset: decode %s: %w", d.paths[i], err)
	}
	return Sample{Input: grayscale(img, d.width, d.height), Label: d.labels[i]}, nil
}

// grayscale box-samples img onto a width x height grid of luminance values in [0, 1].
func grayscale(img image.Image, width, height int) []float32 {
	b := img.Bounds()
	out := make([]float32, width*height)
	if b.Empty() {
		return out
	}

	for y := 0; y < height; y++ {
		y0 := b.Min.Y + y*b.Dy()/height
		y1 := max(b.Min.Y+(y+1)*b.Dy()/height, y0+1)
		for x := 0; x < width; x++ {
			x0 := b.Min.X + x*b.Dx()/width
			x1 := max(b.Min.X+(x+1)*b.Dx()/width, x0+1)

			var sum float64
			for py := y0; py < y1; py++ {
				for px := x0; px < x1; px++ {
					sum += float64(color.Gray16Model.Convert(img.At(px, py)).(color.Gray16).Y)
				}
			}
			out[y*width+x] = float32(sum / float64((y1-y0)*(x1-x0)) / 0xffff)
		}
	}
	return out
}

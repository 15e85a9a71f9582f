package vision

import (
	"fmt"
	"image"
	"slices"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face region in frame coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32
}

// Detector runs RetinaFace (det_10g) through ONNX Runtime. A Detector binds
// fixed input/output tensors and must not be used from two goroutines at once.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	boxes     []*ort.Tensor[float32]
	landmarks []*ort.Tensor[float32]
	threshold float32
	size      int
}

const (
	detInputSize = 640
	nmsIoU       = 0.4
)

// det_10g emits one score/box/landmark head per stride, two anchors per cell.
var detStrides = []struct {
	stride               int
	score, box, landmark string
}{
	{8, "448", "451", "454"},
	{16, "471", "474", "477"},
	{32, "494", "497", "500"},
}

const anchorsPerCell = 2

// NewDetector loads the RetinaFace model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, size: detInputSize}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	var (
		names  []string
		values []ort.Value
	)
	newOutput := func(name string, anchors, width int) (*ort.Tensor[float32], error) {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(anchors), int64(width)))
		if err != nil {
			return nil, fmt.Errorf("create output tensor %s: %w", name, err)
		}
		names = append(names, name)
		values = append(values, t)
		return t, nil
	}

	for _, s := range detStrides {
		cells := (detInputSize / s.stride) * (detInputSize / s.stride) * anchorsPerCell
		sc, err := newOutput(s.score, cells, 1)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.scores = append(d.scores, sc)
	}
	for _, s := range detStrides {
		cells := (detInputSize / s.stride) * (detInputSize / s.stride) * anchorsPerCell
		bx, err := newOutput(s.box, cells, 4)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.boxes = append(d.boxes, bx)
	}
	for _, s := range detStrides {
		cells := (detInputSize / s.stride) * (detInputSize / s.stride) * anchorsPerCell
		lm, err := newOutput(s.landmark, cells, 10)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.landmarks = append(d.landmarks, lm)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{d.input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect returns faces in img ordered by descending confidence, after
// non-maximum suppression.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	toCHW(img, d.size, d.size, detMean, detStd, d.input.GetData())

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	b := img.Bounds()
	scaleX := float32(b.Dx()) / float32(d.size)
	scaleY := float32(b.Dy()) / float32(d.size)

	var dets []Detection
	for i, s := range detStrides {
		dets = d.decodeStride(dets, i, s.stride, scaleX, scaleY, b)
	}
	return suppress(dets, nmsIoU), nil
}

func (d *Detector) decodeStride(dst []Detection, head, stride int, sx, sy float32, b image.Rectangle) []Detection {
	scores := d.scores[head].GetData()
	boxes := d.boxes[head].GetData()
	marks := d.landmarks[head].GetData()
	cols := d.size / stride
	st := float32(stride)

	for idx, score := range scores {
		if score < d.threshold {
			continue
		}
		cell := idx / anchorsPerCell
		ax := float32(cell%cols) * st
		ay := float32(cell/cols) * st

		det := Detection{
			Confidence: score,
			BBox: [4]float32{
				clampF((ax-boxes[idx*4]*st)*sx, 0, float32(b.Dx())) + float32(b.Min.X),
				clampF((ay-boxes[idx*4+1]*st)*sy, 0, float32(b.Dy())) + float32(b.Min.Y),
				clampF((ax+boxes[idx*4+2]*st)*sx, 0, float32(b.Dx())) + float32(b.Min.X),
				clampF((ay+boxes[idx*4+3]*st)*sy, 0, float32(b.Dy())) + float32(b.Min.Y),
			},
		}
		for p := 0; p < 5; p++ {
			det.Landmarks[p][0] = (ax+marks[idx*10+p*2]*st)*sx + float32(b.Min.X)
			det.Landmarks[p][1] = (ay+marks[idx*10+p*2+1]*st)*sy + float32(b.Min.Y)
		}
		dst = append(dst, det)
	}
	return dst
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, group := range [][]*ort.Tensor[float32]{d.scores, d.boxes, d.landmarks} {
		for _, t := range group {
			t.Destroy()
		}
	}
}

// suppress keeps the most confident box of every overlapping cluster.
func suppress(dets []Detection, threshold float32) []Detection {
	slices.SortStableFunc(dets, func(a, b Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	var kept []Detection
	for _, cand := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(cand.BBox, k.BBox) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

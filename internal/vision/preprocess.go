package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128, 128, 128}
	embMean = [3]float32{127.5, 127.5, 127.5}
	embStd  = [3]float32{127.5, 127.5, 127.5}
)

// facePadding widens crops on every side, as a fraction of the box size.
const facePadding = 0.1

// toCHW resizes img to w×h and writes (pixel-mean)/std into dst in planar
// RGB order. dst must hold 3*w*h values.
func toCHW(img image.Image, w, h int, mean, std [3]float32, dst []float32) {
	resized := imaging.Resize(img, w, h, imaging.Linear)
	if resized.Rect.Empty() {
		return
	}
	plane := w * h
	pix := resized.Pix

	for y := 0; y < h; y++ {
		row := y * resized.Stride
		for x := 0; x < w; x++ {
			o := row + x*4
			i := y*w + x
			dst[i] = (float32(pix[o]) - mean[0]) / std[0]
			dst[plane+i] = (float32(pix[o+1]) - mean[1]) / std[1]
			dst[2*plane+i] = (float32(pix[o+2]) - mean[2]) / std[2]
		}
	}
}

// cropFace cuts the padded bounding box out of img. It returns nil for boxes
// that fall outside the image.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padX := int(float32(r.Dx()) * facePadding)
	padY := int(float32(r.Dy()) * facePadding)
	r = image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY).Intersect(b)

	return imaging.Crop(img, r)
}

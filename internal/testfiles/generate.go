package testfiles

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
)

const sampleText = `This is a sample text file for load testing.
It contains several lines of text.
* Line 1: document upload test
* Line 2: text processing test
* Line 3: indexing test
* Line 4: retrieval test
`

const (
	chartWidth    = 500
	chartHeight   = 300
	barWidth      = 60
	barSpacing    = 30
	barStartX     = 50
	maxBarHeight  = 200
	chartBaseline = chartHeight - 50
)

var chartValues = []int{50, 80, 60, 90, 70}

// renderChart draws a small bar chart on a white background and encodes it
// as JPEG
func renderChart() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for i, value := range chartValues {
		x := barStartX + (barWidth+barSpacing)*i
		height := value * maxBarHeight / 100
		bar := image.Rect(x, chartBaseline-height, x+barWidth, chartBaseline)
		fill := color.RGBA{R: uint8(64 + i*30), G: uint8(105 + i*20), B: uint8(225 - i*20), A: 255}
		draw.Draw(img, bar, image.NewUniform(fill), image.Point{}, draw.Src)
	}

	// axes
	black := image.NewUniform(color.Black)
	draw.Draw(img, image.Rect(40, 50, 41, chartBaseline), black, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(40, chartBaseline, chartWidth-40, chartBaseline+1), black, image.Point{}, draw.Src)
	for i := 0; i < 6; i++ {
		y := chartBaseline - i*40
		draw.Draw(img, image.Rect(35, y, 45, y+1), black, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MPEG-1 Layer III, 128 kbit/s, 44.1 kHz, joint stereo. A frame is
// 144 * 128000 / 44100 = 417 bytes without padding; zeroed side info
// decodes to silence.
var frameHeader = []byte{0xFF, 0xFB, 0x90, 0x64}

const (
	frameSize       = 417
	framesPerSecond = 38
)

// silentMP3 returns roughly the given number of seconds of silent audio
func silentMP3(seconds int) []byte {
	frames := seconds * framesPerSecond
	buf := make([]byte, 0, frames*frameSize)
	frame := make([]byte, frameSize)
	copy(frame, frameHeader)
	for i := 0; i < frames; i++ {
		buf = append(buf, frame...)
	}
	return buf
}

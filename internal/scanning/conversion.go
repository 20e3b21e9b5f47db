package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ConversionError means the uploaded document could not be rasterized at
// all. It is fatal to the whole scan session: no extraction is attempted.
type ConversionError struct {
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("document conversion failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("document conversion failed: %s", e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// RenderPages converts an uploaded document into an ordered sequence of page
// images, one PNG per page. A PDF yields one element per page; any supported
// image format yields a single element. Each page is enhanced for the
// recognition service before encoding.
func RenderPages(data []byte, mediaType string) ([][]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(mediaType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	if mimeType == "application/pdf" {
		return pdfToImages(data)
	}

	page, err := imageToPNG(data, mimeType)
	if err != nil {
		return nil, &ConversionError{Reason: "decoding image", Err: err}
	}
	return [][]byte{page}, nil
}

// pdfToImages renders every page of a PDF to a PNG image, in page order.
func pdfToImages(pdfData []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, &ConversionError{Reason: "opening PDF", Err: err}
	}
	defer doc.Close()

	numPages := doc.NumPage()
	if numPages == 0 {
		return nil, &ConversionError{Reason: "PDF has no pages"}
	}

	pages := make([][]byte, 0, numPages)
	for i := 0; i < numPages; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, &ConversionError{Reason: fmt.Sprintf("rendering PDF page %d", i+1), Err: err}
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, enhanceForRecognition(img)); err != nil {
			return nil, &ConversionError{Reason: fmt.Sprintf("encoding PDF page %d", i+1), Err: err}
		}
		pages = append(pages, buf.Bytes())
	}

	return pages, nil
}

// imageToPNG converts any supported image format to an enhanced PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF (common on phones) is not covered by Go's standard image
	// package, so it gets its own decoder.
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, enhanceForRecognition(img)); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// enhanceForRecognition sharpens a scanned page so the extraction service
// has an easier time reading faded thermal prints and photographed pages.
func enhanceForRecognition(src image.Image) image.Image {
	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)
	return img
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// HEIC files declare an ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

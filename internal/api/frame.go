package api

import (
	"fmt"
	"image"
	"net/http"
	"strconv"

	"golang.org/x/image/draw"

	"github.com/banshee-data/lightpos/internal/httputil"
	"github.com/banshee-data/lightpos/internal/imaging"
)

const maxFrameScale = 16

// maxFramePixels caps the size of an upscaled frame; 16 MP is 64 MB of RGBA.
const maxFramePixels = 16 << 20

// scaleImage enlarges src by an integer factor with nearest neighbour
// sampling so single pixels stay crisp.
func scaleImage(src *image.RGBA, scale int) *image.RGBA {
	if scale <= 1 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func (s *Server) showFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	scale := 1
	if v := q.Get("scale"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxFrameScale {
			httputil.BadRequest(w, "invalid 'scale' parameter")
			return
		}
		scale = n
	}

	out, ok := s.latest.Get()
	if !ok {
		httputil.NotFound(w, "no frame processed yet")
		return
	}

	var img *imaging.Image
	switch view := q.Get("view"); view {
	case "", "output":
		img = out.Result.Output
	case "input":
		img = out.Input
	default:
		httputil.BadRequest(w, "invalid 'view' parameter: "+view)
		return
	}

	if int64(img.Width)*int64(scale)*int64(img.Height)*int64(scale) > maxFramePixels {
		httputil.BadRequest(w, fmt.Sprintf("scale %d makes a %dx%d frame larger than %d pixels", scale, img.Width, img.Height, maxFramePixels))
		return
	}

	rgba, err := img.ToRGBA()
	if err != nil {
		httputil.InternalServerError(w, "failed to convert frame: "+err.Error())
		return
	}

	httputil.WritePNG(w, scaleImage(rgba, scale))
}

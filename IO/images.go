package IO

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"

	"github.com/getlantern/errors"
)

// FetchImage downloads url to a temp file and decodes it. Display-only
// convenience; the trainer never calls this.
func FetchImage(url string) (image.Image, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, errors.Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("fetching %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "caption-img-*")
	if err != nil {
		return nil, errors.Wrap(err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, errors.New("saving %s: %v", url, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err)
	}

	img, _, err := image.Decode(tmp)
	if err != nil {
		return nil, errors.New("decoding %s: %v", url, err)
	}
	return img, nil
}

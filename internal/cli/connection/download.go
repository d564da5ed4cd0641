package connection

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
)

// DownloadInfo describes a streamed file.
type DownloadInfo struct {
	Filename    string
	ContentType string
	// Size is -1 when the server sent no Content-Length.
	Size      int64
	Remaining int
	Written   int64
}

// Download redeems a download URL and copies the file to w. progress, if
// non-nil, is called after every chunk with the bytes written so far.
func (c *HTTPClient) Download(ctx context.Context, url string, w io.Writer, progress func(written, total int64)) (*DownloadInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ParseResponse(resp, nil)
	}
	defer resp.Body.Close()

	info := &DownloadInfo{
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		info.Filename = params["filename"]
	}
	if n, err := strconv.Atoi(resp.Header.Get("X-Downloads-Remaining")); err == nil {
		info.Remaining = n
	}

	buf := make([]byte, 32<<10)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return info, fmt.Errorf("write: %w", werr)
			}
			info.Written += int64(n)
			if progress != nil {
				progress(info.Written, info.Size)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return info, fmt.Errorf("read: %w", rerr)
		}
	}
	if info.Size >= 0 && info.Written != info.Size {
		return info, fmt.Errorf("short download: got %d of %d bytes", info.Written, info.Size)
	}
	return info, nil
}

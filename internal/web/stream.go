package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/footfall-dashboard/internal/dashboard"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
)

// wantsProtobuf reports whether the Accept header asks for protobuf SSE data.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamEventsFromChannel streams pre-serialized dashboard events to an SSE
// client until the channel closes, the client goes away or done fires.
func streamEventsFromChannel(w http.ResponseWriter, done <-chan struct{}, eventCh <-chan *dashboard.SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
			ticker.Reset(keepAlive)

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

// streamMJPEGFromChannel writes first, then every frame from frameCh, as a
// multipart MJPEG stream. The last frame is repeated after idle so proxies
// keep the connection open.
func streamMJPEGFromChannel(w http.ResponseWriter, done <-chan struct{}, first []byte, frameCh <-chan []byte, idle time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	last := first
	if last != nil {
		if err := writeMJPEGFrame(w, last); err != nil {
			return
		}
		flusher.Flush()
	}

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			last = data
		case <-timer.C:
			if last == nil {
				timer.Reset(idle)
				continue
			}
		}

		if err := writeMJPEGFrame(w, last); err != nil {
			return
		}
		flusher.Flush()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idle)
	}
}

func writeMJPEGFrame(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		logger.Debug("MJPEG", "Client disconnected during write: %v", err)
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
		return err
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
		return err
	}
	return nil
}

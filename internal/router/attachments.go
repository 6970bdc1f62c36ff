package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/discode-sh/discode/internal/chat"
	"github.com/discode-sh/discode/internal/state"
)

// maxAttachmentSize caps a single attachment download.
const maxAttachmentSize = 50 << 20

// downloadAttachments fetches message attachments into the project's
// .discode/files directory and returns path markers for the prompt. For
// container-mode instances each file is also copied into the container.
func (r *Router) downloadAttachments(ctx context.Context, msg chat.Message, project *state.Project, instance *state.Instance) ([]string, error) {
	dir := filepath.Join(project.ProjectPath, ".discode", "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create attachment dir: %w", err)
	}

	var markers []string
	for _, att := range msg.Attachments {
		name := sanitizeFileName(att.FileName)
		if name == "" {
			r.logger.Warn("Skipping attachment with empty name", "url", att.URL)
			continue
		}

		localPath := filepath.Join(dir, name)
		if err := r.downloadFile(ctx, att.URL, localPath); err != nil {
			r.logger.Warn("Attachment download failed", "file", name, "error", err)
			continue
		}

		promptPath := localPath
		if instance.ContainerMode && r.injector != nil {
			containerPath := "/workspace/.discode/files/" + name
			if err := r.injector.InjectFile(ctx, instance.ContainerID, localPath, containerPath); err != nil {
				r.logger.Warn("Container file injection failed", "file", name, "container", instance.ContainerID, "error", err)
			} else {
				promptPath = containerPath
			}
		}
		markers = append(markers, "[file:"+promptPath+"]")
	}
	return markers, nil
}

func (r *Router) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("attachment fetch returned %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("could not create attachment file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(resp.Body, maxAttachmentSize+1))
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("could not write attachment: %w", err)
	}
	if n > maxAttachmentSize {
		os.Remove(dest)
		return fmt.Errorf("attachment exceeds %d bytes", maxAttachmentSize)
	}
	return nil
}

// sanitizeFileName strips path separators so an attachment name cannot
// escape the download directory.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

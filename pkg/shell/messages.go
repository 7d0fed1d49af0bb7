package shell

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/materialize"
	"github.com/vyvo/pixelflow/pkg/payload"
	"github.com/vyvo/pixelflow/pkg/prediction"
)

// UserMessage turns any generation error into the single line shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		cfgErr      *payload.ConfigurationError
		remoteErr   *prediction.RemoteRequestError
		failedErr   *jobs.GenerationFailedError
		timeoutErr  *jobs.TimeoutError
		downloadErr *materialize.DownloadError
	)
	switch {
	case errors.As(err, &cfgErr):
		if cfgErr.Field == "" {
			return cfgErr.Reason
		}
		return fmt.Sprintf("Please check %q: %s", cfgErr.Field, cfgErr.Reason)
	case errors.Is(err, jobs.ErrJobActive):
		return "A generation is already in progress"
	case errors.As(err, &failedErr):
		return failedErr.Error()
	case errors.As(err, &timeoutErr):
		return "Generation took too long"
	case errors.As(err, &downloadErr):
		if downloadErr.Index < 0 {
			return fmt.Sprintf("Could not save the generation to %s: %v", downloadErr.File, downloadErr.Err)
		}
		kept := len(downloadErr.Written)
		if kept == 0 {
			return fmt.Sprintf("Could not save image %d: %v", downloadErr.Index+1, downloadErr.Err)
		}
		return fmt.Sprintf("Could not save image %d: %v (%d saved image(s) kept)", downloadErr.Index+1, downloadErr.Err, kept)
	case errors.As(err, &remoteErr):
		switch remoteErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "The API key was rejected. Please check it in Settings."
		case http.StatusTooManyRequests:
			return "Too many requests. Please wait a moment and try again."
		}
		return "Request to the prediction service failed: " + remoteErr.Error()
	case errors.Is(err, context.Canceled):
		return "Generation interrupted"
	}
	return "Unexpected error: " + err.Error()
}

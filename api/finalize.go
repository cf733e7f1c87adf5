package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bitrise-io/go-media-upload/uploaderr"
)

const finalizePath = "/Video/finalize"

// FinalizeRequest asks the backend to process both committed objects of a stream.
type FinalizeRequest struct {
	StreamID       string `json:"streamId"`
	BlobPrefix     string `json:"blobPrefix"`
	OutputFileName string `json:"outputFileName"`
	OverlayText    string `json:"overlayText"`
}

// Acknowledgement is the backend's opaque answer to finalize.
// It only confirms the job was accepted, not that processing finished.
type Acknowledgement struct {
	StatusCode int
	Body       json.RawMessage
}

// OutputFileName derives the processed file name from the stream ID.
func OutputFileName(streamID string) string {
	return fmt.Sprintf("final_%s.mp4", streamID)
}

// NewFinalizeRequest builds the request for a stream.
func NewFinalizeRequest(streamID, blobPrefix, overlayText string) FinalizeRequest {
	return FinalizeRequest{
		StreamID:       streamID,
		BlobPrefix:     blobPrefix,
		OutputFileName: OutputFileName(streamID),
		OverlayText:    overlayText,
	}
}

// Finalize requests processing. Anything but 200 is FinalizeFailed.
func (c *Client) Finalize(ctx context.Context, request FinalizeRequest) (Acknowledgement, error) {
	const op = "finalize"

	resp, err := c.postJSON(ctx, c.finalizeClient, finalizePath, op, request)
	if err != nil {
		return Acknowledgement{}, uploaderr.New(uploaderr.KindFinalizeFailed, op, err)
	}
	defer c.closeBody(resp.Body)
	c.dumpResponse(op, resp)

	if !statusOK(resp) {
		return Acknowledgement{}, uploaderr.Status(uploaderr.KindFinalizeFailed, op, resp.StatusCode, readBody(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Acknowledgement{}, uploaderr.New(uploaderr.KindFinalizeFailed, op, fmt.Errorf("read response: %w", err))
	}
	ack := Acknowledgement{StatusCode: resp.StatusCode}
	if len(body) > 0 {
		if !json.Valid(body) {
			c.logger.Warnf("Finalize acknowledgement is not JSON: %s", string(body))
			body, _ = json.Marshal(string(body))
		}
		ack.Body = body
	}

	return ack, nil
}

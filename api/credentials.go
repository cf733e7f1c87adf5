package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bitrise-io/go-media-upload/session"
	"github.com/bitrise-io/go-media-upload/uploaderr"
)

const credentialsPath = "/Video/sas"

type credentialsRequest struct {
	CompanyID string `json:"companyIdFromUserToken"`
	SessionID string `json:"sessionId"`
	StreamID  string `json:"streamId"`
}

type credentialsPayload struct {
	VideoSasURL      string `json:"videoSasUrl"`
	AudioSasURL      string `json:"audioSasUrl"`
	BlobPrefix       string `json:"blobPrefix"`
	StatusChannelURL string `json:"statusChannelUrl"`
}

type credentialsResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Payload credentialsPayload `json:"payload"`
}

// GetCredentials exchanges the session identity for per-file write URLs.
// An application level refusal is CredentialDenied and is never retried.
func (c *Client) GetCredentials(ctx context.Context, identity session.Identity) (session.CredentialSet, error) {
	const op = "get write credentials"

	resp, err := c.postJSON(ctx, c.httpClient, credentialsPath, op, credentialsRequest{
		CompanyID: identity.CompanyID,
		SessionID: identity.SessionID,
		StreamID:  identity.StreamID,
	})
	if err != nil {
		return session.CredentialSet{}, err
	}
	defer c.closeBody(resp.Body)
	c.dumpResponse(op, resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return session.CredentialSet{}, uploaderr.Status(uploaderr.KindCredentialDenied, op, resp.StatusCode, readBody(resp))
	default:
		return session.CredentialSet{}, uploaderr.Status(uploaderr.KindUnexpectedStatus, op, resp.StatusCode, readBody(resp))
	}

	var response credentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return session.CredentialSet{}, uploaderr.New(uploaderr.KindUnexpectedStatus, op, fmt.Errorf("decode response: %w", err))
	}

	if !response.Success {
		return session.CredentialSet{}, uploaderr.Status(uploaderr.KindCredentialDenied, op, resp.StatusCode, response.Message)
	}

	creds := session.CredentialSet{
		VideoWriteURL:    response.Payload.VideoSasURL,
		AudioWriteURL:    response.Payload.AudioSasURL,
		BlobPrefix:       response.Payload.BlobPrefix,
		StatusChannelURL: response.Payload.StatusChannelURL,
	}
	if err := creds.Validate(); err != nil {
		return session.CredentialSet{}, uploaderr.New(uploaderr.KindUnexpectedStatus, op, err)
	}

	c.logger.Debugf("Received credentials: %s", creds)
	return creds, nil
}

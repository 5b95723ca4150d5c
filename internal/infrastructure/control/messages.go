package control

import (
	"encoding/json"
	"fmt"

	"rehearsal/internal/core/domain"
)

// Client to server.
const (
	CommandAnnounce         = "announce"
	CommandUpdateDownloaded = "update_downloaded"
	CommandPing             = "ping"
)

// Server to client.
const (
	CommandDownload = "download"
	CommandRecord   = "record"
	CommandPlay     = "play"
	CommandStop     = "stop"
	CommandPong     = "pong"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type envelope struct {
	Command string `json:"command"`
}

type AnnounceRequest struct {
	ClientID domain.ClientID `json:"client_id"`
	Username string          `json:"username"`
	// UDPPort is the client's audio source port, used to bind its audio
	// address to the TCP session's IP.
	UDPPort int `json:"udp_port,omitempty"`
}

type UpdateDownloadedRequest struct {
	AudioID domain.AudioID `json:"audio_id"`
}

type Reply struct {
	Command string `json:"command"`
	Result  string `json:"result"`
	Reason  string `json:"reason,omitempty"`
}

type DownloadCommand struct {
	AudioID domain.AudioID `json:"audio_id"`
	URL     string         `json:"url"`
}

type RecordCommand struct {
	TrackID domain.TrackID `json:"track_id"`
}

type PlayCommand struct {
	TrackID domain.TrackID  `json:"track_id"`
	TakeIDs []domain.TakeID `json:"take_ids"`
}

func success(command string) Reply {
	return Reply{Command: command, Result: ResultSuccess}
}

func failure(command string, err error) Reply {
	return Reply{Command: command, Result: ResultError, Reason: err.Error()}
}

// tagged flattens payload into a single JSON object with a command field.
func tagged(command string, payload interface{}) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", command, err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("%s payload must be a JSON object: %w", command, err)
		}
	}

	tag, err := json.Marshal(command)
	if err != nil {
		return nil, err
	}
	fields["command"] = tag
	return json.Marshal(fields)
}

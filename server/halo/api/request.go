package api

import (
	"encoding/json"
	"strings"

	"halo_server/server/halo/domain"
)

type createAgentRequest struct {
	domain.Profile
	Tags []string `json:"tags"`
}

type deviceTokenRequest struct {
	DeviceToken *string `json:"deviceToken"`
}

type createRoomRequest struct {
	UserIDs []string     `json:"userIds"`
	Scope   domain.Scope `json:"scope"`
	Name    *string      `json:"name"`
}

type createAgentRoomRequest struct {
	Tag string `json:"tag"`
}

type joinUserRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type joinAgentRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

type sendTextRequest struct {
	Text            string         `json:"text"`
	Metadata        map[string]any `json:"metadata"`
	ClientMessageID string         `json:"clientMessageId"`
}

type sendFileURLRequest struct {
	File            domain.File    `json:"file"`
	Caption         *string        `json:"caption"`
	Metadata        map[string]any `json:"metadata"`
	ClientMessageID string         `json:"clientMessageId"`
}

type sendSurveyRequest struct {
	Survey          domain.Survey  `json:"survey"`
	Metadata        map[string]any `json:"metadata"`
	ClientMessageID string         `json:"clientMessageId"`
}

type updateSurveyRequest struct {
	Survey domain.Survey `json:"survey"`
}

type devTokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// csv splits a comma separated query value, dropping blanks.
func csv(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contentTypes(raw string) []domain.ContentType {
	var out []domain.ContentType
	for _, part := range csv(raw) {
		out = append(out, domain.ContentType(strings.ToUpper(part)))
	}
	return out
}

// formMetadata decodes the JSON object sent as a multipart field.
func formMetadata(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func optionalString(raw string) *string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return &raw
}

package repository

import (
	"fmt"
	"time"

	"halo_server/server/common/infra/docstore"
	"halo_server/server/halo/domain"
)

const (
	UsersCollection  = "users"
	AgentsCollection = "agents"
	RoomsCollection  = "rooms"
)

func MessagesCollection(roomID string) string {
	return docstore.Path(RoomsCollection, roomID, "messages")
}

func userToDoc(u domain.User) docstore.Document {
	return docstore.Document{
		"id":          u.ID,
		"firstName":   u.FirstName,
		"lastName":    u.LastName,
		"nickname":    optString(u.Nickname),
		"image":       optString(u.Image),
		"createdAt":   u.CreatedAt.UTC(),
		"deviceToken": optString(u.DeviceToken),
	}
}

func userFromDoc(id string, doc docstore.Document) domain.User {
	return domain.User{
		ID:          idOf(id, doc),
		FirstName:   str(doc, "firstName"),
		LastName:    str(doc, "lastName"),
		Nickname:    strPtr(doc, "nickname"),
		Image:       strPtr(doc, "image"),
		CreatedAt:   timeVal(doc, "createdAt"),
		DeviceToken: strPtr(doc, "deviceToken"),
	}
}

func agentToDoc(a domain.Agent) docstore.Document {
	doc := userToDoc(domain.User{
		ID:          a.ID,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Nickname:    a.Nickname,
		Image:       a.Image,
		CreatedAt:   a.CreatedAt,
		DeviceToken: a.DeviceToken,
	})
	doc["tags"] = stringList(a.Tags)
	return doc
}

func agentFromDoc(id string, doc docstore.Document) domain.Agent {
	u := userFromDoc(id, doc)
	return domain.Agent{
		ID:          u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Nickname:    u.Nickname,
		Image:       u.Image,
		CreatedAt:   u.CreatedAt,
		DeviceToken: u.DeviceToken,
		Tags:        strList(doc, "tags"),
	}
}

func previewToDoc(l domain.LastMessage) map[string]any {
	return map[string]any{
		"id":     l.ID,
		"type":   string(l.Type),
		"text":   l.Text,
		"sentBy": l.SentBy,
		"sentAt": l.SentAt.UTC(),
	}
}

func previewFromDoc(doc docstore.Document) domain.LastMessage {
	return domain.LastMessage{
		ID:     str(doc, "id"),
		Type:   domain.ContentType(str(doc, "type")),
		Text:   str(doc, "text"),
		SentBy: str(doc, "sentBy"),
		SentAt: timeVal(doc, "sentAt"),
	}
}

func roomToDoc(r domain.Room) docstore.Document {
	doc := docstore.Document{
		"id":              r.ID,
		"scope":           string(r.Scope),
		"name":            optString(r.Name),
		"tag":             optString(r.Tag),
		"createdBy":       r.CreatedBy,
		"createdAt":       r.CreatedAt.UTC(),
		"usersIds":        stringList(r.UsersIDs),
		"removedUsersIds": stringList(r.RemovedUsersIDs),
		"agentsIds":       nil,
		"metadata":        docstore.Normalize(r.Metadata),
		"lastMessage":     previewToDoc(r.LastMessage),
	}
	if r.AgentsIDs != nil {
		doc["agentsIds"] = stringList(r.AgentsIDs)
	}
	return doc
}

func roomFromDoc(id string, doc docstore.Document) domain.Room {
	return domain.Room{
		ID:              idOf(id, doc),
		Scope:           domain.Scope(str(doc, "scope")),
		Name:            strPtr(doc, "name"),
		Tag:             strPtr(doc, "tag"),
		CreatedBy:       str(doc, "createdBy"),
		CreatedAt:       timeVal(doc, "createdAt"),
		UsersIDs:        nonNil(strList(doc, "usersIds")),
		RemovedUsersIDs: nonNil(strList(doc, "removedUsersIds")),
		AgentsIDs:       strList(doc, "agentsIds"),
		Metadata:        mapVal(doc, "metadata"),
		LastMessage:     previewFromDoc(docstore.Document(mapVal(doc, "lastMessage"))),
	}
}

// membershipUpdates rewrites the three membership lists of a room.
func membershipUpdates(r domain.Room) []docstore.Update {
	updates := []docstore.Update{
		{Path: "usersIds", Value: stringList(r.UsersIDs)},
		{Path: "removedUsersIds", Value: stringList(r.RemovedUsersIDs)},
	}
	if r.AgentsIDs != nil {
		updates = append(updates, docstore.Update{Path: "agentsIds", Value: stringList(r.AgentsIDs)})
	}
	return updates
}

func fileToDoc(f domain.File) map[string]any {
	return map[string]any{
		"mimeType":     f.MimeType,
		"name":         f.Name,
		"uri":          f.URI,
		"thumbnailUri": optString(f.ThumbnailURI),
	}
}

func fileFromDoc(doc docstore.Document) domain.File {
	return domain.File{
		MimeType:     str(doc, "mimeType"),
		Name:         str(doc, "name"),
		URI:          str(doc, "uri"),
		ThumbnailURI: strPtr(doc, "thumbnailUri"),
	}
}

func surveyToDoc(s domain.Survey) map[string]any {
	options := make([]any, 0, len(s.Options))
	for _, opt := range s.Options {
		options = append(options, map[string]any{
			"id":    opt.ID,
			"text":  opt.Text,
			"votes": stringList(opt.Votes),
		})
	}
	return map[string]any{
		"question":       s.Question,
		"options":        options,
		"multipleChoice": s.MultipleChoice,
		"closed":         s.Closed,
	}
}

func surveyFromDoc(doc docstore.Document) domain.Survey {
	s := domain.Survey{
		Question:       str(doc, "question"),
		MultipleChoice: boolVal(doc, "multipleChoice"),
		Closed:         boolVal(doc, "closed"),
	}
	raw, _ := docstore.Normalize(doc["options"]).([]any)
	for _, item := range raw {
		opt, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s.Options = append(s.Options, domain.SurveyOption{
			ID:    str(opt, "id"),
			Text:  str(opt, "text"),
			Votes: nonNil(strList(opt, "votes")),
		})
	}
	return s
}

func messageToDoc(m domain.Message) docstore.Document {
	doc := docstore.Document{
		"id":          m.ID,
		"room":        m.Room,
		"createdBy":   m.CreatedBy,
		"createdAt":   nil,
		"updatedAt":   m.UpdatedAt.UTC(),
		"contentType": string(m.ContentType()),
		"text":        nil,
		"file":        nil,
		"survey":      nil,
		"metadata":    docstore.Normalize(m.Metadata),
		"readBy":      stringList(m.ReadBy),
		"delivered":   m.Delivered,
		"deleted":     m.Deleted,
	}
	if m.CreatedAt != nil {
		doc["createdAt"] = m.CreatedAt.UTC()
	}
	switch c := m.Content.(type) {
	case domain.TextContent:
		doc["text"] = c.Text
	case domain.FileContent:
		doc["file"] = fileToDoc(c.File)
		doc["text"] = optString(c.Caption)
	case domain.SurveyContent:
		doc["survey"] = surveyToDoc(c.Survey)
	}
	return doc
}

func messageFromDoc(id string, doc docstore.Document) (domain.Message, error) {
	var file *domain.File
	if raw := mapVal(doc, "file"); raw != nil {
		f := fileFromDoc(raw)
		file = &f
	}
	var survey *domain.Survey
	if raw := mapVal(doc, "survey"); raw != nil {
		s := surveyFromDoc(raw)
		survey = &s
	}
	ct := domain.ContentType(str(doc, "contentType"))
	content, err := domain.NewContent(ct, strPtr(doc, "text"), file, survey)
	if err != nil {
		return domain.Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	return domain.Message{
		ID:        idOf(id, doc),
		Room:      str(doc, "room"),
		CreatedBy: str(doc, "createdBy"),
		CreatedAt: timePtr(doc, "createdAt"),
		UpdatedAt: timeVal(doc, "updatedAt"),
		Content:   content,
		Metadata:  mapVal(doc, "metadata"),
		ReadBy:    nonNil(strList(doc, "readBy")),
		Delivered: boolVal(doc, "delivered"),
		Deleted:   boolVal(doc, "deleted"),
	}, nil
}

func idOf(id string, doc docstore.Document) string {
	if id != "" {
		return id
	}
	return str(doc, "id")
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringList(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func str(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func strPtr(doc map[string]any, key string) *string {
	s, ok := doc[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func strList(doc map[string]any, key string) []string {
	raw, ok := docstore.Normalize(doc[key]).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolVal(doc map[string]any, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func timeVal(doc map[string]any, key string) time.Time {
	t, _ := docstore.AsTime(doc[key])
	return t.UTC()
}

func timePtr(doc map[string]any, key string) *time.Time {
	t, ok := docstore.AsTime(doc[key])
	if !ok {
		return nil
	}
	t = t.UTC()
	return &t
}

func mapVal(doc map[string]any, key string) map[string]any {
	m, ok := docstore.Normalize(doc[key]).(map[string]any)
	if !ok {
		return nil
	}
	return m
}

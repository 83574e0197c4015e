package app

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ideahive/api/internal/content"
	"ideahive/api/internal/docstore"
	"ideahive/api/internal/export"
	"ideahive/api/internal/store"
)

// route dispatches the authenticated API surface.
func (s *HTTPServer) route(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch parts[1] {
	case "search":
		if r.Method == http.MethodGet && len(parts) == 2 {
			s.handleSearch(w, r, session)
			return
		}
	case "me":
		if r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "favorites" {
			pages, err := s.service.ListFavorites(r.Context(), session.UserID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pages": pagePayloads(pages)})
			return
		}
	case "invitations":
		if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "accept" {
			var body struct {
				Token string `json:"token"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			workspace, err := s.service.AcceptInvitation(r.Context(), session, body.Token)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"workspace": workspacePayload(workspace)})
			return
		}
	case "templates":
		s.handleTemplates(w, r, session, parts)
		return
	case "workspaces":
		if len(parts) == 2 {
			switch r.Method {
			case http.MethodGet:
				workspaces, err := s.service.ListWorkspaces(r.Context(), session.UserID)
				if err != nil {
					s.fail(w, err)
					return
				}
				items := make([]map[string]any, 0, len(workspaces))
				for _, ws := range workspaces {
					items = append(items, workspacePayload(ws))
				}
				writeJSON(w, http.StatusOK, map[string]any{"workspaces": items})
				return
			case http.MethodPost:
				var body struct {
					Name string `json:"name"`
					Icon string `json:"icon"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				workspace, err := s.service.CreateWorkspace(r.Context(), session, body.Name, body.Icon)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusCreated, workspacePayload(workspace))
				return
			}
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleWorkspace(w, r, session, parts[2], parts[3:])
		return
	case "pages":
		if len(parts) >= 3 {
			s.handlePage(w, r, session, parts[2], parts)
			return
		}
	case "blocks":
		if len(parts) >= 3 {
			s.handleBlock(w, r, session, parts[2], parts)
			return
		}
	case "comments":
		if len(parts) >= 3 {
			s.handleComment(w, r, session, parts[2], parts)
			return
		}
	case "attachments":
		if len(parts) >= 3 {
			s.handleAttachment(w, r, session, parts[2], parts)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	payload, err := s.service.Search(r.Context(), session.UserID, q, filterType, limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		workspaceID := strings.TrimSpace(r.URL.Query().Get("workspaceId"))
		templates, err := s.service.ListTemplates(r.Context(), session.UserID, workspaceID)
		if err != nil {
			s.fail(w, err)
			return
		}
		items := make([]map[string]any, 0, len(templates))
		for _, t := range templates {
			items = append(items, templatePayload(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": items})
		return
	}
	if len(parts) == 3 {
		templateID := parts[2]
		switch r.Method {
		case http.MethodGet:
			meta, blocks, err := s.service.GetTemplate(r.Context(), session, templateID)
			if err != nil {
				s.fail(w, err)
				return
			}
			payload := templatePayload(meta)
			payload["blocks"] = blocks
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeleteTemplate(r.Context(), session, templateID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, session Session, workspaceID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			workspace, role, err := s.service.GetWorkspace(r.Context(), workspaceID, session.UserID)
			if err != nil {
				s.fail(w, err)
				return
			}
			payload := workspacePayload(workspace)
			payload["role"] = string(role)
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPatch:
			var body struct {
				Name string `json:"name"`
				Icon string `json:"icon"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			workspace, err := s.service.UpdateWorkspace(r.Context(), session, workspaceID, body.Name, body.Icon)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, workspacePayload(workspace))
			return
		case http.MethodDelete:
			if err := s.service.DeleteWorkspace(r.Context(), session, workspaceID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch rest[0] {
	case "members":
		if len(rest) == 1 && r.Method == http.MethodGet {
			members, err := s.service.ListMembers(r.Context(), workspaceID, session.UserID)
			if err != nil {
				s.fail(w, err)
				return
			}
			items := make([]map[string]any, 0, len(members))
			for _, m := range members {
				items = append(items, map[string]any{
					"userId":   m.UserID,
					"role":     m.Role,
					"name":     m.UserName,
					"email":    m.UserEmail,
					"joinedAt": m.CreatedAt.Format(time.RFC3339),
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"members": items})
			return
		}
		if len(rest) == 2 {
			memberID := rest[1]
			switch r.Method {
			case http.MethodPatch:
				var body struct {
					Role string `json:"role"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				if err := s.service.UpdateMemberRole(r.Context(), session, workspaceID, memberID, body.Role); err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			case http.MethodDelete:
				if err := s.service.RemoveMember(r.Context(), session, workspaceID, memberID); err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		}
	case "invitations":
		if len(rest) == 1 {
			switch r.Method {
			case http.MethodGet:
				invitations, err := s.service.ListWorkspaceInvitations(r.Context(), session, workspaceID)
				if err != nil {
					s.fail(w, err)
					return
				}
				items := make([]map[string]any, 0, len(invitations))
				for _, inv := range invitations {
					items = append(items, invitationPayload(inv, false))
				}
				writeJSON(w, http.StatusOK, map[string]any{"invitations": items})
				return
			case http.MethodPost:
				var body struct {
					Email string `json:"email"`
					Role  string `json:"role"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				invitation, err := s.service.InviteMember(r.Context(), session, workspaceID, body.Email, body.Role)
				if err != nil {
					s.fail(w, err)
					return
				}
				// Dev bypass: surface the token when no mailer is configured.
				writeJSON(w, http.StatusCreated, invitationPayload(invitation, !s.service.SMTPConfigured()))
				return
			}
		}
	case "pages":
		if len(rest) == 1 {
			switch r.Method {
			case http.MethodGet:
				pages, err := s.service.ListPages(r.Context(), workspaceID, session.UserID)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"pages": pagePayloads(pages)})
				return
			case http.MethodPost:
				var body struct {
					Title        string `json:"title"`
					Icon         string `json:"icon"`
					ParentPageID string `json:"parentPageId"`
					IsPublic     bool   `json:"isPublic"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				page, err := s.service.CreatePage(r.Context(), session, workspaceID, CreatePageInput{
					Title:        body.Title,
					Icon:         body.Icon,
					ParentPageID: body.ParentPageID,
					IsPublic:     body.IsPublic,
				})
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusCreated, pagePayload(page))
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request, session Session, pageID string, parts []string) {
	if pageID == "suggest" {
		if r.Method == http.MethodGet && len(parts) == 3 {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			pages, err := s.service.SuggestPages(r.Context(), session.UserID, strings.TrimSpace(r.URL.Query().Get("q")), limit)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pages": pagePayloads(pages)})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			page, favorite, err := s.service.GetPage(r.Context(), pageID, session.UserID)
			if err != nil {
				s.fail(w, err)
				return
			}
			payload := pagePayload(page)
			payload["isFavorite"] = favorite
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPatch:
			var body struct {
				Title    *string `json:"title"`
				Icon     *string `json:"icon"`
				IsPublic *bool   `json:"isPublic"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			page, err := s.service.UpdatePage(r.Context(), session, pageID, UpdatePageInput{
				Title:    body.Title,
				Icon:     body.Icon,
				IsPublic: body.IsPublic,
			})
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pagePayload(page))
			return
		case http.MethodDelete:
			if err := s.service.DeletePage(r.Context(), session, pageID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch parts[3] {
	case "blocks":
		if r.Method == http.MethodPost && len(parts) == 4 {
			var body struct {
				Type       string         `json:"type"`
				Content    any            `json:"content"`
				Properties map[string]any `json:"properties"`
				Children   []string       `json:"children"`
				Position   *int           `json:"position"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			block, pc, err := s.service.CreateBlock(r.Context(), session, pageID, content.CreateBlockInput{
				Type:       body.Type,
				Content:    body.Content,
				Properties: body.Properties,
				Children:   body.Children,
				Position:   body.Position,
			})
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"block": block, "version": pc.Version})
			return
		}
	case "content":
		if len(parts) == 4 {
			switch r.Method {
			case http.MethodGet:
				resolved, err := s.service.GetPageContent(r.Context(), session, pageID)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, resolved)
				return
			case http.MethodPut:
				var body struct {
					Blocks []content.ReplaceEntry `json:"blocks"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				resolved, err := s.service.ReplacePageContent(r.Context(), session, pageID, body.Blocks)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, resolved)
				return
			}
		}
	case "history":
		if r.Method == http.MethodGet && len(parts) == 4 {
			entries, editors, err := s.service.GetPageHistory(r.Context(), session, pageID)
			if err != nil {
				s.fail(w, err)
				return
			}
			items := make([]map[string]any, 0, len(entries))
			for _, entry := range entries {
				items = append(items, historySummary(entry, editors[entry.EditedBy]))
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": items})
			return
		}
	case "versions":
		if r.Method == http.MethodGet && len(parts) == 5 {
			version, err := strconv.Atoi(parts[4])
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be an integer", nil)
				return
			}
			entry, editorName, err := s.service.GetPageVersion(r.Context(), session, pageID, version)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"pageId":       entry.PageID,
				"version":      entry.Version,
				"blocks":       entry.Blocks,
				"editedBy":     entry.EditedBy,
				"editedByName": editorName,
				"editedAt":     entry.EditedAt.Format(time.RFC3339),
			})
			return
		}
	case "restore":
		if r.Method == http.MethodPost && len(parts) == 5 {
			version, err := strconv.Atoi(parts[4])
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be an integer", nil)
				return
			}
			resolved, err := s.service.RestorePageVersion(r.Context(), session, pageID, version)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resolved)
			return
		}
	case "apply-template":
		if r.Method == http.MethodPost && len(parts) == 4 {
			var body struct {
				TemplateID string `json:"templateId"`
				Mode       string `json:"mode"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.Mode == "" {
				body.Mode = string(content.ApplyOverwrite)
			}
			resolved, err := s.service.ApplyTemplate(r.Context(), session, pageID, body.TemplateID, content.ApplyMode(body.Mode))
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resolved)
			return
		}
	case "duplicate":
		if r.Method == http.MethodPost && len(parts) == 4 {
			page, err := s.service.DuplicatePage(r.Context(), session, pageID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, pagePayload(page))
			return
		}
	case "templates":
		if r.Method == http.MethodPost && len(parts) == 4 {
			var body struct {
				Name     string `json:"name"`
				Category string `json:"category"`
				IsPublic bool   `json:"isPublic"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			meta, err := s.service.CreateTemplateFromPage(r.Context(), session, pageID, CreateTemplateInput{
				Name:     body.Name,
				Category: body.Category,
				IsPublic: body.IsPublic,
			})
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, templatePayload(meta))
			return
		}
	case "favorite":
		if r.Method == http.MethodPost && len(parts) == 4 {
			favorite, err := s.service.ToggleFavorite(r.Context(), session, pageID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"isFavorite": favorite})
			return
		}
	case "comments":
		if len(parts) == 4 {
			switch r.Method {
			case http.MethodGet:
				comments, reactions, err := s.service.ListComments(r.Context(), pageID, session.UserID)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"comments": commentPayloads(comments, reactions)})
				return
			case http.MethodPost:
				var body struct {
					BlockID string `json:"blockId"`
					Body    string `json:"body"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				comment, err := s.service.AddComment(r.Context(), session, pageID, body.BlockID, body.Body)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusCreated, commentPayload(comment, nil))
				return
			}
		}
	case "attachments":
		if len(parts) == 4 {
			switch r.Method {
			case http.MethodGet:
				attachments, err := s.service.ListAttachments(r.Context(), pageID, session.UserID)
				if err != nil {
					s.fail(w, err)
					return
				}
				items := make([]map[string]any, 0, len(attachments))
				for _, a := range attachments {
					items = append(items, attachmentPayload(a))
				}
				writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
				return
			case http.MethodPost:
				s.handleAttachmentUpload(w, r, session, pageID)
				return
			}
		}
	case "export":
		if r.Method == http.MethodGet && len(parts) == 4 {
			s.handleExport(w, r, session, pageID)
			return
		}
	case "chat":
		if len(parts) == 4 {
			switch r.Method {
			case http.MethodPost:
				var body struct {
					Question string `json:"question"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				answer, err := s.service.ChatAsk(r.Context(), session, pageID, body.Question)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
				return
			case http.MethodGet:
				history, err := s.service.ChatHistory(r.Context(), session, pageID)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"messages": history})
				return
			case http.MethodDelete:
				if err := s.service.ChatReset(r.Context(), session, pageID); err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request, session Session, blockID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			block, err := s.service.GetBlock(r.Context(), session, blockID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, block)
			return
		case http.MethodPatch:
			var patch docstore.BlockPatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			block, pc, err := s.service.UpdateBlock(r.Context(), session, blockID, patch)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"block": block, "version": pc.Version})
			return
		case http.MethodDelete:
			pc, err := s.service.DeleteBlock(r.Context(), session, blockID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": pc.Version})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 {
		switch parts[3] {
		case "position":
			if r.Method == http.MethodPatch {
				var body struct {
					Position *int `json:"position"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				if body.Position == nil {
					writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "position is required", nil)
					return
				}
				pc, moved, err := s.service.MoveBlock(r.Context(), session, blockID, *body.Position)
				if err != nil {
					s.fail(w, err)
					return
				}
				payload := map[string]any{"ok": true, "version": pc.Version}
				if !moved {
					payload["unchanged"] = true
				}
				writeJSON(w, http.StatusOK, payload)
				return
			}
		case "duplicate":
			if r.Method == http.MethodPost {
				block, pc, err := s.service.DuplicateBlock(r.Context(), session, blockID)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusCreated, map[string]any{"block": block, "version": pc.Version})
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, session Session, commentID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodPatch:
			var body struct {
				Body string `json:"body"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.UpdateComment(r.Context(), session, commentID, body.Body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, commentPayload(comment, nil))
			return
		case http.MethodDelete:
			if err := s.service.DeleteComment(r.Context(), session, commentID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	if len(parts) == 4 && parts[3] == "reactions" && r.Method == http.MethodPost {
		var body struct {
			Emoji string `json:"emoji"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ToggleCommentReaction(r.Context(), session, commentID, body.Emoji); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAttachment(w http.ResponseWriter, r *http.Request, session Session, attachmentID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteAttachment(r.Context(), session, attachmentID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if len(parts) == 4 && parts[3] == "url" && r.Method == http.MethodGet {
		url, err := s.service.AttachmentURL(r.Context(), session, attachmentID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

const maxUploadBytes = 32 << 20

func (s *HTTPServer) handleAttachmentUpload(w http.ResponseWriter, r *http.Request, session Session, pageID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field 'file' is required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	attachment, err := s.service.UploadAttachment(r.Context(), session, pageID, header.Filename, contentType, header.Size, file)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachmentPayload(attachment))
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, pageID string) {
	var format export.Format
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "", "html":
		format = export.FormatHTML
	case "pdf":
		format = export.FormatPDF
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil)
		return
	}
	includeComments := r.URL.Query().Get("comments") == "true"

	result, err := s.service.ExportPage(r.Context(), session, pageID, format, includeComments)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handlePageSocket(w http.ResponseWriter, r *http.Request, pageID string) {
	if s.service.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime not configured", nil)
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	session := Session{}
	if token != "" {
		parsed, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session = parsed
	}
	if _, err := s.service.requirePageRead(r.Context(), pageID, session.UserID); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.service.hub.Subscribe(w, r, pageID); err != nil {
		log.Printf("realtime: subscribe page %s: %v", pageID, err)
	}
}

// --- payload helpers ---

func workspacePayload(ws store.Workspace) map[string]any {
	return map[string]any{
		"id":        ws.ID,
		"name":      ws.Name,
		"slug":      ws.Slug,
		"icon":      ws.Icon,
		"createdBy": ws.CreatedBy,
		"createdAt": ws.CreatedAt.Format(time.RFC3339),
		"updatedAt": ws.UpdatedAt.Format(time.RFC3339),
	}
}

func pagePayload(p store.Page) map[string]any {
	payload := map[string]any{
		"id":          p.ID,
		"workspaceId": p.WorkspaceID,
		"title":       p.Title,
		"icon":        p.Icon,
		"isPublic":    p.IsPublic,
		"createdBy":   p.CreatedBy,
		"createdAt":   p.CreatedAt.Format(time.RFC3339),
		"updatedAt":   p.UpdatedAt.Format(time.RFC3339),
	}
	if p.ParentPageID != nil {
		payload["parentPageId"] = *p.ParentPageID
	}
	return payload
}

func pagePayloads(pages []store.Page) []map[string]any {
	items := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		items = append(items, pagePayload(p))
	}
	return items
}

func invitationPayload(inv store.Invitation, includeToken bool) map[string]any {
	payload := map[string]any{
		"id":          inv.ID,
		"workspaceId": inv.WorkspaceID,
		"email":       inv.Email,
		"role":        inv.Role,
		"invitedBy":   inv.InvitedBy,
		"expiresAt":   inv.ExpiresAt.Format(time.RFC3339),
		"accepted":    inv.AcceptedAt != nil,
	}
	if includeToken {
		payload["devInvitationToken"] = inv.Token
	}
	return payload
}

func templatePayload(t store.TemplateMeta) map[string]any {
	payload := map[string]any{
		"id":        t.ID,
		"name":      t.Name,
		"category":  t.Category,
		"isPublic":  t.IsPublic,
		"createdBy": t.CreatedBy,
		"createdAt": t.CreatedAt.Format(time.RFC3339),
	}
	if t.WorkspaceID != nil {
		payload["workspaceId"] = *t.WorkspaceID
	}
	return payload
}

func commentPayload(c store.Comment, reactions map[string]int) map[string]any {
	payload := map[string]any{
		"id":         c.ID,
		"pageId":     c.PageID,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"body":       c.Body,
		"createdAt":  c.CreatedAt.Format(time.RFC3339),
		"updatedAt":  c.UpdatedAt.Format(time.RFC3339),
	}
	if c.BlockID != "" {
		payload["blockId"] = c.BlockID
	}
	if reactions != nil {
		payload["reactions"] = reactions
	}
	return payload
}

func commentPayloads(comments []store.Comment, reactions []store.CommentReactionCount) []map[string]any {
	counts := make(map[string]map[string]int)
	for _, rc := range reactions {
		if counts[rc.CommentID] == nil {
			counts[rc.CommentID] = make(map[string]int)
		}
		counts[rc.CommentID][rc.Emoji] = rc.Count
	}
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, commentPayload(c, counts[c.ID]))
	}
	return items
}

func attachmentPayload(a store.Attachment) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"pageId":      a.PageID,
		"name":        a.Name,
		"contentType": a.ContentType,
		"size":        a.Size,
		"uploadedBy":  a.UploadedBy,
		"createdAt":   a.CreatedAt.Format(time.RFC3339),
	}
}

// historySummary lists a version without its block payload; the full snapshot
// comes from the versions endpoint.
func historySummary(entry docstore.HistoryEntry, editorName string) map[string]any {
	return map[string]any{
		"version":      entry.Version,
		"editedBy":     entry.EditedBy,
		"editedByName": editorName,
		"editedAt":     entry.EditedAt.Format(time.RFC3339),
		"blockCount":   len(entry.Blocks),
	}
}

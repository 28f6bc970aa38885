package app

import (
	"context"
	"net/http"
	"strings"

	"querydeck/api/internal/gitrepo"
	"querydeck/api/internal/search"
	"querydeck/api/internal/store"
	"querydeck/api/internal/util"
)

func folderPayload(folder store.Folder) map[string]any {
	return map[string]any{
		"id":          folder.ID,
		"teamId":      folder.TeamID,
		"parentId":    folder.ParentID,
		"name":        folder.Name,
		"description": folder.Description,
		"createdBy":   folder.CreatedBy,
		"createdAt":   folder.CreatedAt,
		"updatedAt":   folder.UpdatedAt,
	}
}

func queryPayload(query store.Query) map[string]any {
	payload := map[string]any{
		"id":             query.ID,
		"teamId":         query.TeamID,
		"folderId":       query.FolderID,
		"title":          query.Title,
		"description":    query.Description,
		"sqlContent":     query.SQLContent,
		"status":         query.Status,
		"createdBy":      query.CreatedBy,
		"lastModifiedBy": query.LastModifiedBy,
		"createdAt":      query.CreatedAt,
		"updatedAt":      query.UpdatedAt,
	}
	if query.DraftSQL != nil {
		payload["draftSql"] = *query.DraftSQL
	}
	return payload
}

func queryListPayload(item store.QueryListItem) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"teamId":         item.TeamID,
		"folderId":       item.FolderID,
		"title":          item.Title,
		"description":    item.Description,
		"status":         item.Status,
		"lastModifiedBy": item.LastModifiedBy,
		"updatedAt":      item.UpdatedAt,
	}
}

func (s *Service) indexQuery(query store.Query) {
	if s.search == nil {
		return
	}
	s.search.IndexQuery(search.QueryRecord{
		ID:          query.ID,
		Title:       query.Title,
		Description: query.Description,
		SQL:         query.SQLContent,
		TeamID:      query.TeamID,
		FolderID:    query.FolderID,
		Status:      query.Status,
	})
}

// memberFolder loads a folder and checks the caller belongs to its team.
func (s *Service) memberFolder(ctx context.Context, session Session, folderID string) (store.Folder, error) {
	folder, err := s.store.GetFolder(s.identCtx(ctx, session), folderID)
	if err != nil {
		return store.Folder{}, err
	}
	if err := s.requireMember(ctx, session, folder.TeamID); err != nil {
		return store.Folder{}, err
	}
	return folder, nil
}

// memberQuery loads a query and checks the caller belongs to its team.
func (s *Service) memberQuery(ctx context.Context, session Session, queryID string) (store.Query, error) {
	query, err := s.store.GetQuery(s.identCtx(ctx, session), queryID)
	if err != nil {
		return store.Query{}, err
	}
	if err := s.requireMember(ctx, session, query.TeamID); err != nil {
		return store.Query{}, err
	}
	return query, nil
}

// CreateFolder creates a folder at the team root or under a parent.
func (s *Service) CreateFolder(ctx context.Context, session Session, teamID string, parentID *string, name, description string) (map[string]any, error) {
	if err := s.requireMember(ctx, session, teamID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	folder := store.Folder{
		ID:          util.NewID("fld"),
		TeamID:      teamID,
		ParentID:    parentID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   session.UserID,
	}
	if err := s.store.CreateFolder(s.identCtx(ctx, session), folder); err != nil {
		return nil, translateStoreErr(err)
	}

	created, err := s.store.GetFolder(s.identCtx(ctx, session), folder.ID)
	if err != nil {
		return nil, err
	}
	return folderPayload(created), nil
}

// ListFolders returns all of a team's folders, roots first.
func (s *Service) ListFolders(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	if err := s.requireMember(ctx, session, teamID); err != nil {
		return nil, err
	}
	folders, err := s.store.ListFolders(s.identCtx(ctx, session), teamID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		items = append(items, folderPayload(folder))
	}
	return map[string]any{"folders": items}, nil
}

// DeleteFolder removes an empty folder. Only the folder's creator or a team
// admin may delete it.
func (s *Service) DeleteFolder(ctx context.Context, session Session, folderID string) (map[string]any, error) {
	folder, err := s.memberFolder(ctx, session, folderID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCreatorOrAdmin(ctx, session, folder.TeamID, folder.CreatedBy); err != nil {
		return nil, err
	}
	if err := s.store.DeleteFolder(s.identCtx(ctx, session), folderID); err != nil {
		return nil, translateStoreErr(err)
	}
	return map[string]any{"ok": true}, nil
}

func validateQueryContent(title, sqlContent string) error {
	if strings.TrimSpace(title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if len(sqlContent) > store.MaxSQLContentLength {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sqlContent exceeds maximum length", map[string]any{"maxLength": store.MaxSQLContentLength})
	}
	return nil
}

// CreateQuery creates a draft query in a folder and seeds its git mirror.
func (s *Service) CreateQuery(ctx context.Context, session Session, teamID, folderID, title, description, sqlContent string) (map[string]any, error) {
	if err := s.requireMember(ctx, session, teamID); err != nil {
		return nil, err
	}
	if err := validateQueryContent(title, sqlContent); err != nil {
		return nil, err
	}

	query := store.Query{
		ID:             util.NewID("qry"),
		TeamID:         teamID,
		FolderID:       folderID,
		Title:          strings.TrimSpace(title),
		Description:    strings.TrimSpace(description),
		SQLContent:     sqlContent,
		CreatedBy:      session.UserID,
		LastModifiedBy: session.Email,
	}
	if err := s.store.CreateQuery(s.identCtx(ctx, session), query); err != nil {
		return nil, translateStoreErr(err)
	}

	if err := s.git.EnsureQueryRepo(query.ID, gitrepo.Content{Title: query.Title, SQL: query.SQLContent}, session.UserName); err != nil {
		return nil, err
	}

	created, err := s.store.GetQuery(s.identCtx(ctx, session), query.ID)
	if err != nil {
		return nil, err
	}
	s.indexQuery(created)
	return queryPayload(created), nil
}

// ListQueries returns team queries, optionally scoped to a folder.
func (s *Service) ListQueries(ctx context.Context, session Session, teamID, folderID string) (map[string]any, error) {
	if err := s.requireMember(ctx, session, teamID); err != nil {
		return nil, err
	}
	queries, err := s.store.ListQueries(s.identCtx(ctx, session), teamID, folderID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(queries))
	for _, item := range queries {
		items = append(items, queryListPayload(item))
	}
	return map[string]any{"queries": items}, nil
}

// GetQuery returns one query with its full content.
func (s *Service) GetQuery(ctx context.Context, session Session, queryID string) (map[string]any, error) {
	query, err := s.memberQuery(ctx, session, queryID)
	if err != nil {
		return nil, err
	}
	return queryPayload(query), nil
}

// UpdateQuery applies an edit under the content rules: drafts change in
// place, approved queries stage the edit, pending queries refuse it.
func (s *Service) UpdateQuery(ctx context.Context, session Session, queryID, title, description, sqlContent string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}
	if err := validateQueryContent(title, sqlContent); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateQueryContent(s.identCtx(ctx, session), queryID, strings.TrimSpace(title), strings.TrimSpace(description), sqlContent, session.Email)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	s.indexQuery(updated)
	return queryPayload(updated), nil
}

// DeleteQuery removes a query and its version ledger. Only the query's
// creator or a team admin may delete it.
func (s *Service) DeleteQuery(ctx context.Context, session Session, queryID string) (map[string]any, error) {
	query, err := s.memberQuery(ctx, session, queryID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCreatorOrAdmin(ctx, session, query.TeamID, query.CreatedBy); err != nil {
		return nil, err
	}
	if err := s.store.DeleteQuery(s.identCtx(ctx, session), queryID); err != nil {
		return nil, translateStoreErr(err)
	}
	if s.search != nil {
		s.search.DeleteQuery(queryID)
	}
	return map[string]any{"ok": true}, nil
}

// MoveQuery reparents a query within its team.
func (s *Service) MoveQuery(ctx context.Context, session Session, queryID, folderID string) (map[string]any, error) {
	if _, err := s.memberQuery(ctx, session, queryID); err != nil {
		return nil, err
	}
	moved, err := s.store.MoveQuery(s.identCtx(ctx, session), queryID, folderID, session.Email)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	s.indexQuery(moved)
	return queryPayload(moved), nil
}

// SearchQueries runs a team-scoped full-text search.
func (s *Service) SearchQueries(ctx context.Context, session Session, teamID, text, status string, limit, offset int) (search.Response, error) {
	if err := s.requireMember(ctx, session, teamID); err != nil {
		return search.Response{}, err
	}
	resp := s.search.Search(s.identCtx(ctx, session), search.Query{
		Text:         text,
		TeamID:       teamID,
		FilterStatus: status,
		Limit:        limit,
		Offset:       offset,
	})
	return resp, nil
}

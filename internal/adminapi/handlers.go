// SPDX-License-Identifier: MPL-2.0

package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/invowk/guildhost/internal/dispatch"
	"github.com/invowk/guildhost/internal/guild"
	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	errorBody struct {
		Error    string   `json:"error"`
		Blocking []string `json:"blocking,omitempty"`
	}

	descriptorView struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Description  string   `json:"description,omitempty"`
		Author       string   `json:"author,omitempty"`
		Version      string   `json:"version,omitempty"`
		Dependencies []string `json:"dependencies"`
		Protected    bool     `json:"protected"`
	}

	catalogView struct {
		Modules []descriptorView `json:"modules"`
		// Order is a valid instantiation order of the whole catalog.
		Order []string `json:"order"`
	}

	moduleView struct {
		descriptorView
		Live                bool     `json:"live"`
		Enabled             *bool    `json:"enabled,omitempty"`
		MissingDependencies []string `json:"missing_dependencies"`
		LiveDependents      []string `json:"live_dependents"`
	}

	commandView struct {
		ID          string `json:"id"`
		Module      string `json:"module"`
		Term        string `json:"term"`
		DesiredTerm string `json:"desired_term"`
		Enabled     bool   `json:"enabled"`
		Description string `json:"description,omitempty"`
		Usage       string `json:"usage,omitempty"`
	}

	commandPatch struct {
		Term    *string `json:"term"`
		Enabled *bool   `json:"enabled"`
	}

	settingsView struct {
		Prefix              string `json:"prefix"`
		UnknownCommandReply bool   `json:"unknown_command_reply"`
	}

	settingsPatch struct {
		Prefix              *string `json:"prefix"`
		UnknownCommandReply *bool   `json:"unknown_command_reply"`
	}

	changedView struct {
		Changed bool `json:"changed"`
	}
)

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	descs := s.manager.Catalog().Descriptors()
	view := catalogView{
		Modules: make([]descriptorView, 0, len(descs)),
		Order:   idStrings(s.manager.Graph().Order()),
	}
	for _, d := range descs {
		view.Modules = append(view.Modules, s.describe(d))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGuilds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"guilds": idStrings(s.manager.Guilds())})
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	var statuses []lifecycle.ModuleStatus
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) (err error) {
		statuses, err = s.manager.ListModules(ctx, g)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]moduleView, 0, len(statuses))
	for _, st := range statuses {
		v := moduleView{
			descriptorView:      s.describe(st.Descriptor),
			Live:                st.Live,
			MissingDependencies: idStrings(st.MissingDependencies),
			LiveDependents:      idStrings(st.LiveDependents),
		}
		if st.Found {
			v.Enabled = &st.Persisted
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnableModule(w http.ResponseWriter, r *http.Request) {
	id := botmod.ModuleID(chi.URLParam(r, "module"))
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) error {
		return s.manager.EnableModule(ctx, g, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedView{Changed: true})
}

func (s *Server) handleDisableModule(w http.ResponseWriter, r *http.Request) {
	id := botmod.ModuleID(chi.URLParam(r, "module"))
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) error {
		return s.manager.DisableModule(ctx, g, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedView{Changed: true})
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	var regs []guild.Registration
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) (err error) {
		regs, err = s.manager.Commands(ctx, g)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]commandView, 0, len(regs))
	for _, reg := range regs {
		out = append(out, commandViewOf(reg))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePatchCommand(w http.ResponseWriter, r *http.Request) {
	var patch commandPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	ref := chi.URLParam(r, "command")

	var reg guild.Registration
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) (err error) {
		reg, err = s.manager.FindCommand(ctx, g, ref)
		if err != nil {
			return err
		}
		if patch.Term != nil {
			if reg, err = s.manager.RenameCommand(ctx, g, string(reg.Command.ID), *patch.Term); err != nil {
				return err
			}
		}
		if patch.Enabled != nil {
			if reg, _, err = s.manager.SetCommandEnabled(ctx, g, string(reg.Command.ID), *patch.Enabled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandViewOf(reg))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	var view settingsView
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) error {
		state, err := s.manager.InstantiateForGuild(ctx, g)
		if err != nil {
			return err
		}
		view = settingsView{Prefix: state.Prefix(), UnknownCommandReply: state.UnknownCommandReply()}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	var view settingsView
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) error {
		if patch.Prefix != nil {
			if _, err := s.manager.SetPrefix(ctx, g, *patch.Prefix); err != nil {
				return err
			}
		}
		if patch.UnknownCommandReply != nil {
			if _, err := s.manager.SetUnknownCommandReply(ctx, g, *patch.UnknownCommandReply); err != nil {
				return err
			}
		}
		state, err := s.manager.InstantiateForGuild(ctx, g)
		if err != nil {
			return err
		}
		view = settingsView{Prefix: state.Prefix(), UnknownCommandReply: state.UnknownCommandReply()}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	var users []botmod.UserID
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) (err error) {
		users, err = s.manager.AdminUsers(ctx, g)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"admins": idStrings(users)})
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	user := botmod.UserID(chi.URLParam(r, "user"))
	var changed bool
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) (err error) {
		changed, err = s.manager.AddAdminUser(ctx, g, user)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedView{Changed: changed})
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	user := botmod.UserID(chi.URLParam(r, "user"))
	var changed bool
	err := s.onGuild(r, func(ctx context.Context, g botmod.GuildID) (err error) {
		changed, err = s.manager.RemoveAdminUser(ctx, g, user)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedView{Changed: changed})
}

// onGuild runs fn on the queue of the guild named in the URL.
func (s *Server) onGuild(r *http.Request, fn func(ctx context.Context, g botmod.GuildID) error) error {
	g := botmod.GuildID(chi.URLParam(r, "guild"))
	if err := g.Validate(); err != nil {
		return err
	}
	return s.queue.Do(r.Context(), g, func(ctx context.Context) error {
		return fn(ctx, g)
	})
}

func (s *Server) describe(d botmod.Descriptor) descriptorView {
	return descriptorView{
		ID:           string(d.ID),
		Name:         d.DisplayName(),
		Description:  d.Description,
		Author:       d.Author,
		Version:      d.Version,
		Dependencies: idStrings(d.Dependencies),
		Protected:    d.ID == s.manager.Protected(),
	}
}

func commandViewOf(r guild.Registration) commandView {
	return commandView{
		ID:          string(r.Command.ID),
		Module:      string(r.ModuleID),
		Term:        r.Term,
		DesiredTerm: r.DesiredTerm(),
		Enabled:     r.Enabled,
		Description: r.Command.Description,
		Usage:       r.Command.Usage,
	}
}

func idStrings[T ~string](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // the client is gone if this fails
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var depErr *lifecycle.DependencyError
	switch {
	case errors.As(err, &depErr):
		status = http.StatusConflict
		body.Blocking = idStrings(depErr.Blocking)
	case errors.Is(err, lifecycle.ErrUnknownModule), errors.Is(err, guild.ErrUnknownCommand):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrAlreadyEnabled), errors.Is(err, lifecycle.ErrAlreadyDisabled),
		errors.Is(err, lifecycle.ErrProtectedModule), errors.Is(err, guild.ErrTermConflict):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrStartupFailure):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrInvalidPrefix), errors.Is(err, botmod.ErrInvalidGuildID),
		errors.Is(err, botmod.ErrInvalidTerm):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrTransient), errors.Is(err, dispatch.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

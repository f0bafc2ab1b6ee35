package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/common/logging"
	mw "wuyrush.io/note/common/middleware"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	md "wuyrush.io/note/models"
)

// decode reads the JSON body of r into v. An empty body leaves v alone.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		msg := fmt.Sprintf("request oversized. Request size must be under %f mebibyte", float64(tooLarge.Limit)/(1024.*1024.))
		mw.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": msg})
		return false
	}
	mw.WriteError(w, ne.NewBadInput("error parsing request body").WithCause(err))
	return false
}

// reply writes v, or err if it is set.
func reply(w http.ResponseWriter, r *http.Request, code int, v interface{}, err error) {
	if err != nil {
		clog := logging.FromContext(r.Context()).WithError(err)
		if ne.StatusCode(err) >= http.StatusInternalServerError {
			clog.Error("error serving request")
		} else {
			clog.Debug("request rejected")
		}
		mw.WriteError(w, err)
		return
	}
	mw.WriteJSON(w, code, v)
}

func (s *Server) checkSizes(title, content *string) error {
	if title != nil && s.Limits.NoteTitleSizeMaxByte > 0 && len(*title) > s.Limits.NoteTitleSizeMaxByte {
		return ne.NewBadInput(fmt.Sprintf("title must be under %d bytes", s.Limits.NoteTitleSizeMaxByte))
	}
	if content != nil && s.Limits.NoteContentSizeMaxByte > 0 && len(*content) > s.Limits.NoteContentSizeMaxByte {
		return ne.NewBadInput(fmt.Sprintf("content must be under %d bytes", s.Limits.NoteContentSizeMaxByte))
	}
	return nil
}

func (s *Server) HandleCreateNote() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var d md.NoteDraft
		if !decode(w, r, &d) {
			return
		}
		if err := s.checkSizes(&d.Title, &d.Content); err != nil {
			reply(w, r, 0, nil, err)
			return
		}
		n, err := s.Notes.Create(r.Context(), mw.Principal(r.Context()), d)
		reply(w, r, http.StatusCreated, n, err)
	}
}

func (s *Server) HandleListNotes() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		q := r.URL.Query()
		ns, err := s.Notes.List(r.Context(), mw.Principal(r.Context()), md.ListFilter{
			Query:    q.Get("q"),
			Category: q.Get("category"),
			Tag:      q.Get("tag"),
		})
		reply(w, r, http.StatusOK, ns, err)
	}
}

func (s *Server) HandleGetNote() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		n, err := s.Notes.Get(r.Context(), mw.Principal(r.Context()), ps.ByName("id"))
		reply(w, r, http.StatusOK, n, err)
	}
}

func (s *Server) HandleEditNote() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var e md.NoteEdit
		if !decode(w, r, &e) {
			return
		}
		if err := s.checkSizes(e.Title, e.Content); err != nil {
			reply(w, r, 0, nil, err)
			return
		}
		n, err := s.Notes.Edit(r.Context(), mw.Principal(r.Context()), ps.ByName("id"), e)
		reply(w, r, http.StatusOK, n, err)
	}
}

func (s *Server) HandleDeleteNoteForever() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")
		ctx := logging.WithFields(r.Context(), log.Fields{cst.LogFieldNoteID: id})
		err := s.Notes.DeleteForever(ctx, mw.Principal(ctx), id)
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		reply(w, r.WithContext(ctx), 0, nil, err)
	}
}

type pinReq struct {
	Pinned bool `json:"pinned"`
}

func (s *Server) HandleSetPinned() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req pinReq
		if !decode(w, r, &req) {
			return
		}
		n, err := s.Notes.SetPinned(r.Context(), mw.Principal(r.Context()), ps.ByName("id"), req.Pinned)
		reply(w, r, http.StatusOK, n, err)
	}
}

type trashReq struct {
	// Retention, e.g. "720h", schedules the destruction of the trashed note. Empty keeps the
	// current deadline.
	Retention string `json:"retention"`
}

func (s *Server) HandleTrashNote() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req trashReq
		if !decode(w, r, &req) {
			return
		}
		var retention time.Duration
		if req.Retention != "" {
			d, err := time.ParseDuration(req.Retention)
			if err != nil || d <= 0 {
				reply(w, r, 0, nil, ne.NewBadInput("retention must be a positive duration"))
				return
			}
			retention = d
		}
		n, err := s.Notes.Trash(r.Context(), mw.Principal(r.Context()), ps.ByName("id"), retention)
		reply(w, r, http.StatusOK, n, err)
	}
}

func (s *Server) HandleRestoreNote() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		n, err := s.Notes.Restore(r.Context(), mw.Principal(r.Context()), ps.ByName("id"))
		reply(w, r, http.StatusOK, n, err)
	}
}

type destructReq struct {
	Destruct string `json:"destruct"`
}

func (s *Server) HandleSetDestructTimer() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req destructReq
		if !decode(w, r, &req) {
			return
		}
		offset, err := md.ParseDestructOffset(req.Destruct)
		if err != nil {
			reply(w, r, 0, nil, err)
			return
		}
		n, err := s.Notes.SetDestructTimer(r.Context(), mw.Principal(r.Context()), ps.ByName("id"), offset)
		reply(w, r, http.StatusOK, n, err)
	}
}

func (s *Server) HandleShareNote() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		link, err := s.Notes.Share(r.Context(), mw.Principal(r.Context()), ps.ByName("id"))
		reply(w, r, http.StatusCreated, link, err)
	}
}

func (s *Server) HandleGrantRead() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		n, err := s.Notes.GrantRead(r.Context(), mw.Principal(r.Context()), ps.ByName("id"), ps.ByName("reader"))
		reply(w, r, http.StatusOK, n, err)
	}
}

func (s *Server) HandleRevokeRead() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		n, err := s.Notes.RevokeRead(r.Context(), mw.Principal(r.Context()), ps.ByName("id"), ps.ByName("reader"))
		reply(w, r, http.StatusOK, n, err)
	}
}

func (s *Server) HandleListTrash() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ns, err := s.Notes.ListTrash(r.Context(), mw.Principal(r.Context()))
		reply(w, r, http.StatusOK, ns, err)
	}
}

func (s *Server) HandleCreateCategory() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var d md.CategoryDraft
		if !decode(w, r, &d) {
			return
		}
		c, err := s.Catalog.CreateCategory(r.Context(), mw.Principal(r.Context()), d)
		reply(w, r, http.StatusCreated, c, err)
	}
}

func (s *Server) HandleListCategories() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		cs, err := s.Catalog.ListCategories(r.Context(), mw.Principal(r.Context()))
		reply(w, r, http.StatusOK, cs, err)
	}
}

func (s *Server) HandleGetCategory() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		c, err := s.Catalog.GetCategory(r.Context(), mw.Principal(r.Context()), ps.ByName("ref"))
		reply(w, r, http.StatusOK, c, err)
	}
}

func (s *Server) HandleUpdateCategory() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var e md.CategoryEdit
		if !decode(w, r, &e) {
			return
		}
		c, err := s.Notes.UpdateCategory(r.Context(), mw.Principal(r.Context()), ps.ByName("ref"), e)
		reply(w, r, http.StatusOK, c, err)
	}
}

func (s *Server) HandleDeleteCategory() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := s.Notes.DeleteCategory(r.Context(), mw.Principal(r.Context()), ps.ByName("ref")); err != nil {
			reply(w, r, 0, nil, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HandleCategoryTree() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		tree, err := s.Catalog.Tree(r.Context(), mw.Principal(r.Context()))
		reply(w, r, http.StatusOK, tree, err)
	}
}

func (s *Server) HandleListTags() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		tags, err := s.Catalog.ListTags(r.Context(), mw.Principal(r.Context()))
		reply(w, r, http.StatusOK, tags, err)
	}
}

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	rsserrs "github.com/jdholdren/rssmd/internal/errors"
	"github.com/jdholdren/rssmd/internal/markdown"
	"github.com/jdholdren/rssmd/internal/refresh"
	"github.com/jdholdren/rssmd/internal/serverutil"
)

const errInvalidLinks = "请提供有效的RSS链接列表"

// The snapshot as it stands, with the feed list filled in even before the first cycle.
func (s Server) snapshot(r *http.Request) (refresh.Snapshot, error) {
	snap, ok := s.snapshots.Current()
	if ok {
		return snap, nil
	}

	links, err := s.links.Current(r.Context())
	if err != nil {
		return refresh.Snapshot{}, err
	}
	snap.RSSLinks = links
	return snap, nil
}

func (s Server) getRSS(w http.ResponseWriter, r *http.Request) error {
	snap, err := s.snapshot(r)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, snap)
}

type MessageResp struct {
	Message string `json:"message"`
}

func (s Server) getRefresh(w http.ResponseWriter, r *http.Request) error {
	s.snapshots.Trigger()
	return serverutil.WriteJSON(w, http.StatusOK, MessageResp{Message: "数据刷新已开始"})
}

func (s Server) getMarkdown(w http.ResponseWriter, r *http.Request) error {
	snap, err := s.snapshot(r)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(markdown.Convert(snap.Items))); err != nil {
		return fmt.Errorf("error writing markdown: %s", err)
	}

	return nil
}

type RSSLinksResp struct {
	RSSLinks        []string `json:"rssLinks"`
	DefaultRSSLinks []string `json:"defaultRssLinks"`
}

func (s Server) getRSSLinks(w http.ResponseWriter, r *http.Request) error {
	current, err := s.links.Current(r.Context())
	if err != nil {
		return err
	}

	defaults := s.links.Defaults
	if defaults == nil {
		defaults = []string{}
	}
	return serverutil.WriteJSON(w, http.StatusOK, RSSLinksResp{
		RSSLinks:        current,
		DefaultRSSLinks: defaults,
	})
}

type UpdateRSSReq struct {
	RSSLinks []string `json:"rssLinks"`
}

func (req UpdateRSSReq) Validate() error {
	if len(req.RSSLinks) == 0 {
		return rsserrs.E(errInvalidLinks, http.StatusBadRequest)
	}

	var details []rsserrs.Detail
	for i, link := range req.RSSLinks {
		u, err := url.Parse(strings.TrimSpace(link))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			details = append(details, rsserrs.Detail{
				Field: fmt.Sprintf("rssLinks[%d]", i),
				Error: "must be an http or https url",
			})
		}
	}
	if len(details) > 0 {
		return rsserrs.E(errInvalidLinks, http.StatusBadRequest, details)
	}

	return nil
}

type UpdateRSSResp struct {
	Message  string   `json:"message"`
	RSSLinks []string `json:"rssLinks"`
}

func (s Server) postUpdateRSS(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[UpdateRSSReq](r.Body, errInvalidLinks)
	if err != nil {
		return err
	}

	urls := make([]string, 0, len(body.RSSLinks))
	for _, link := range body.RSSLinks {
		urls = append(urls, strings.TrimSpace(link))
	}

	stored, err := s.links.Replace(r.Context(), urls)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, UpdateRSSResp{
		Message:  "RSS链接已更新",
		RSSLinks: stored,
	})
}

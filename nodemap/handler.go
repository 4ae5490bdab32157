package nodemap

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/affinity/coordinator"
	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/scheduler/domain"
)

// Wire messages shared by the handler and HTTPNodeMap.
type nodeResponse struct {
	Node cluster.NodeId `json:"node"`
}

type chooseRequest struct {
	Exclude cluster.NodeId `json:"exclude"`
}

type nodeEntry struct {
	Id         cluster.NodeId `json:"id"`
	Offloading bool           `json:"offloading"`
}

type moveRequest struct {
	Ids     []domain.Identity `json:"ids"`
	Exclude cluster.NodeId    `json:"exclude"`
	Target  cluster.NodeId    `json:"target"`
}

// NewHandler serves mapper over http:
//
//	GET  /identities/{id}  -> {"node": ...}, 404 when unmapped
//	POST /choose           -> {"node": ...}, 409 when no node is available
//	POST /move             -> 204, 404 when the target is not alive
//	GET  /nodes            -> [{"id": ..., "offloading": ...}], when mapper is a cluster.Fetcher
//
// Mount it under a prefix such as /nodemap.
func NewHandler(mapper coordinator.NodeMapper) http.Handler {
	h := &handler{mapper: mapper}
	r := chi.NewRouter()
	r.Get("/identities/{id}", h.locate)
	r.Post("/choose", h.choose)
	r.Post("/move", h.move)
	if f, ok := mapper.(cluster.Fetcher); ok {
		h.fetcher = f
		r.Get("/nodes", h.nodes)
	}
	return r
}

type handler struct {
	mapper  coordinator.NodeMapper
	fetcher cluster.Fetcher
}

func (h *handler) nodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.fetcher.Fetch()
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]nodeEntry, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, nodeEntry{Id: n.Id(), Offloading: n.Offloading()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		log.WithField("err", err).Error("cannot write node list")
	}
}

func (h *handler) locate(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	node, err := h.mapper.Locate(domain.Identity(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeNode(w, node)
}

func (h *handler) choose(w http.ResponseWriter, r *http.Request) {
	var req chooseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	node, err := h.mapper.ChooseNode(req.Exclude)
	if err != nil {
		writeError(w, err)
		return
	}
	writeNode(w, node)
}

func (h *handler) move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.mapper.MoveIdentities(req.Ids, req.Exclude, req.Target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeNode(w http.ResponseWriter, node cluster.NodeId) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(nodeResponse{Node: node}); err != nil {
		log.WithField("err", err).Error("cannot write node map response")
	}
}

// 4xx statuses are not retried by the client, so every expected failure maps to one.
func writeError(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case ErrUnknownIdentity, ErrUnknownNode:
		http.Error(w, err.Error(), http.StatusNotFound)
	case coordinator.ErrNoNodesAvailable:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

package nodemap

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/affinity/coordinator"
	"github.com/reddwarf/sgs/cloud/cluster"
	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
)

const DefaultHttpTries = 5 // 0 and 1 both mean 1 try total

type Client interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

func MakePesterClient(tries int) *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = tries
	client.LogHook = func(e pester.ErrEntry) {
		log.Errorf("Retrying node map request after failed attempt: %+v", e)
	}
	return client
}

// HTTPNodeMap is a NodeMapper backed by a remote node map served by NewHandler.
type HTTPNodeMap struct {
	rootURI string
	client  Client
	stat    stats.StatsReceiver
}

var _ coordinator.NodeMapper = (*HTTPNodeMap)(nil)
var _ cluster.Fetcher = (*HTTPNodeMap)(nil)

// NewHTTPNodeMap talks to the node map at rootURI, e.g.
// http://localhost:9091/nodemap. A nil client gets a pester client.
func NewHTTPNodeMap(rootURI string, client Client, stat stats.StatsReceiver) *HTTPNodeMap {
	rootURI = strings.TrimSuffix(rootURI, "/")
	if client == nil {
		client = MakePesterClient(DefaultHttpTries)
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	log.Infof("Making new HTTP node map client with root URI: %s", rootURI)
	return &HTTPNodeMap{rootURI: rootURI, client: client, stat: stat}
}

func (m *HTTPNodeMap) Locate(id domain.Identity) (cluster.NodeId, error) {
	req, err := http.NewRequest("GET", m.rootURI+"/identities/"+url.PathEscape(string(id)), nil)
	if err != nil {
		return "", err
	}
	resp, err := m.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return m.decodeNode(resp)
	case http.StatusNotFound:
		return "", ErrUnknownIdentity
	}
	return "", m.statusError(resp, "locating "+string(id))
}

func (m *HTTPNodeMap) ChooseNode(exclude cluster.NodeId) (cluster.NodeId, error) {
	req, err := m.newPost("/choose", chooseRequest{Exclude: exclude})
	if err != nil {
		return "", err
	}
	resp, err := m.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return m.decodeNode(resp)
	case http.StatusConflict:
		return "", coordinator.ErrNoNodesAvailable
	}
	return "", m.statusError(resp, "choosing a node")
}

func (m *HTTPNodeMap) MoveIdentities(ids []domain.Identity, exclude, target cluster.NodeId) error {
	req, err := m.newPost("/move", moveRequest{Ids: ids, Exclude: exclude, Target: target})
	if err != nil {
		return err
	}
	resp, err := m.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrUnknownNode
	}
	return m.statusError(resp, "moving identities to "+string(target))
}

// Fetch returns the remote node map's live nodes. Implements cluster.Fetcher.
func (m *HTTPNodeMap) Fetch() ([]cluster.Node, error) {
	req, err := http.NewRequest("GET", m.rootURI+"/nodes", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, m.statusError(resp, "fetching nodes")
	}
	var entries []nodeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		m.stat.Counter(stats.NodeMapClientErrCounter).Inc(1)
		return nil, errors.Wrap(err, "decoding node list")
	}
	nodes := make([]cluster.Node, 0, len(entries))
	for _, e := range entries {
		if e.Offloading {
			nodes = append(nodes, cluster.NewOffloadingNode(string(e.Id)))
		} else {
			nodes = append(nodes, cluster.NewIdNode(string(e.Id)))
		}
	}
	return nodes, nil
}

func (m *HTTPNodeMap) newPost(path string, body interface{}) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", m.rootURI+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (m *HTTPNodeMap) do(req *http.Request) (*http.Response, error) {
	m.stat.Counter(stats.NodeMapClientRequestCounter).Inc(1)
	resp, err := m.client.Do(req)
	if err != nil {
		m.stat.Counter(stats.NodeMapClientErrCounter).Inc(1)
		log.Errorf("Node map request error: %s %s %v", req.Method, req.URL, err)
		return nil, errors.Wrapf(err, "node map request %s %s", req.Method, req.URL.Path)
	}
	return resp, nil
}

func (m *HTTPNodeMap) decodeNode(resp *http.Response) (cluster.NodeId, error) {
	var nr nodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		m.stat.Counter(stats.NodeMapClientErrCounter).Inc(1)
		return "", errors.Wrap(err, "decoding node map response")
	}
	return nr.Node, nil
}

func (m *HTTPNodeMap) statusError(resp *http.Response, what string) error {
	m.stat.Counter(stats.NodeMapClientErrCounter).Inc(1)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	log.Errorf("Node map response status error: %s -- %s", what, resp.Status)
	return errors.Errorf("%s: %s: %s", what, resp.Status, strings.TrimSpace(string(body)))
}

// Package devicetest runs an in-memory device speaking the list protocol over
// httptest, for tests of the protocol client and everything built on it.
package devicetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lpr-manager/core/store"
)

// Device is a fake fleet member.
type Device struct {
	Server *httptest.Server

	// Username and Password enable basic auth checks when set.
	Username string
	Password string
	// Digest makes the device challenge with WWW-Authenticate: Digest.
	Digest bool

	mu          sync.Mutex
	plates      map[string]string
	unreachable bool
	rejectAll   string
	refuseList  string
	rejected    map[string]string
	failAfter   int
	delay       time.Duration

	inFlight    int32
	maxInFlight int32

	Searches atomic.Int32
	Upserts  atomic.Int32
	Removes  atomic.Int32
	Clears   atomic.Int32
}

// New starts a fake device and stops it when the test ends.
func New(t testing.TB) *Device {
	d := &Device{
		plates:    make(map[string]string),
		rejected:  make(map[string]string),
		failAfter: -1,
	}
	d.Server = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.Server.Close)
	return d
}

// Model returns a store.Device pointing at the fake.
func (d *Device) Model(id uint, name string) store.Device {
	scheme := store.AuthBasic
	if d.Digest {
		scheme = store.AuthDigest
	}
	return store.Device{
		ID:         id,
		Name:       name,
		Address:    d.Server.URL,
		Username:   d.Username,
		Password:   d.Password,
		AuthScheme: scheme,
		Role:       store.RoleUndeclared,
	}
}

// Seed stores plates directly.
func (d *Device) Seed(plates ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range plates {
		d.plates[p] = "whiteList"
	}
}

// Plates returns the stored plates, sorted.
func (d *Device) Plates() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedLocked()
}

func (d *Device) sortedLocked() []string {
	out := make([]string, 0, len(d.plates))
	for p := range d.plates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SetUnreachable makes the device drop every connection.
func (d *Device) SetUnreachable(v bool) {
	d.mu.Lock()
	d.unreachable = v
	d.mu.Unlock()
}

// RejectAll answers every request with statusString msg.
func (d *Device) RejectAll(msg string) {
	d.mu.Lock()
	d.rejectAll = msg
	d.mu.Unlock()
}

// RefuseSearch answers list reads with HTTP 200 and a bare failure status
// envelope carrying msg, the way firmwares refuse unsupported searches.
func (d *Device) RefuseSearch(msg string) {
	d.mu.Lock()
	d.refuseList = msg
	d.mu.Unlock()
}

// RejectPlate refuses upserts of plate with statusString msg.
func (d *Device) RejectPlate(plate, msg string) {
	d.mu.Lock()
	d.rejected[plate] = msg
	d.mu.Unlock()
}

// FailUpsertsAfter accepts n upserts and then drops connections for good.
func (d *Device) FailUpsertsAfter(n int) {
	d.mu.Lock()
	d.failAfter = n
	d.mu.Unlock()
}

// SetDelay slows every reply down.
func (d *Device) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// MaxInFlight reports the highest number of concurrent requests seen.
func (d *Device) MaxInFlight() int {
	return int(atomic.LoadInt32(&d.maxInFlight))
}

func (d *Device) serve(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&d.inFlight, 1)
	defer atomic.AddInt32(&d.inFlight, -1)
	for {
		m := atomic.LoadInt32(&d.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&d.maxInFlight, m, n) {
			break
		}
	}

	d.mu.Lock()
	unreachable, delay, rejectAll := d.unreachable, d.delay, d.rejectAll
	d.mu.Unlock()

	if unreachable {
		drop(w)
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if !d.authorized(w, r) {
		return
	}
	if rejectAll != "" {
		writeStatus(w, http.StatusBadRequest, 4, rejectAll, "badParameters")
		return
	}

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/searchLPListAudit"):
		d.search(w, r)
	case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/licensePlateAuditData/record"):
		d.record(w, r)
	case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/DelLicensePlateAuditData"):
		d.delete(w, r)
	default:
		writeStatus(w, http.StatusNotFound, 4, "Invalid Operation", "notSupport")
	}
}

func (d *Device) authorized(w http.ResponseWriter, r *http.Request) bool {
	if d.Username == "" {
		return true
	}
	if d.Digest {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Digest ") && strings.Contains(auth, `username="`+d.Username+`"`) {
			return true
		}
		w.Header().Set("WWW-Authenticate", `Digest realm="lpr", qop="auth", nonce="4e6f6e6365", opaque="6f70", algorithm=MD5`)
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	user, pass, ok := r.BasicAuth()
	if ok && user == d.Username && pass == d.Password {
		return true
	}
	w.WriteHeader(http.StatusUnauthorized)
	return false
}

func (d *Device) search(w http.ResponseWriter, r *http.Request) {
	d.Searches.Add(1)
	var req struct {
		Description struct {
			SearchID   string `json:"searchID"`
			Position   int    `json:"searchResultPosition"`
			MaxResults int    `json:"maxResults"`
		} `json:"LPListAuditSearchDescription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, 4, "Invalid Content", "badJsonContent")
		return
	}

	d.mu.Lock()
	all, refuse := d.sortedLocked(), d.refuseList
	d.mu.Unlock()

	if refuse != "" {
		writeStatus(w, http.StatusOK, 4, refuse, "notSupport")
		return
	}

	pos, limit := req.Description.Position, req.Description.MaxResults
	if pos > len(all) {
		pos = len(all)
	}
	end := pos + limit
	if end > len(all) {
		end = len(all)
	}

	page := make([]map[string]any, 0, end-pos)
	for i, p := range all[pos:end] {
		page = append(page, map[string]any{
			"id":           pos + i + 1,
			"LicensePlate": p,
			"listType":     "whiteList",
		})
	}

	status := "MORE"
	if end == len(all) {
		status = "OK"
	}
	if len(page) == 0 {
		status = "NO MATCH"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"LPListAuditSearchResult": map[string]any{
			"searchID":             req.Description.SearchID,
			"responseStatusStrg":   status,
			"numOfMatches":         len(page),
			"totalMatches":         len(all),
			"LicensePlateInfoList": page,
		},
	})
}

func (d *Device) record(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []struct {
			Plate         string `json:"LicensePlate"`
			ListType      string `json:"listType"`
			EffectiveTime string `json:"effectiveTime"`
		} `json:"LicensePlateInfoList"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Entries) == 0 {
		writeStatus(w, http.StatusBadRequest, 4, "Invalid Content", "badJsonContent")
		return
	}

	d.mu.Lock()
	if d.failAfter == 0 {
		d.mu.Unlock()
		drop(w)
		return
	}
	if d.failAfter > 0 {
		d.failAfter--
	}
	for _, e := range req.Entries {
		if msg, ok := d.rejected[e.Plate]; ok {
			d.mu.Unlock()
			writeStatus(w, http.StatusOK, 6, msg, "badParameters")
			return
		}
	}
	for _, e := range req.Entries {
		d.plates[e.Plate] = e.ListType
	}
	d.mu.Unlock()

	d.Upserts.Add(1)
	writeStatus(w, http.StatusOK, 1, "OK", "ok")
}

func (d *Device) delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeleteAll bool `json:"deleteAllEnabled"`
		Entries   []struct {
			Plate string `json:"LicensePlate"`
		} `json:"LicensePlateInfoList"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, 4, "Invalid Content", "badJsonContent")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if req.DeleteAll {
		d.Clears.Add(1)
		d.plates = make(map[string]string)
		writeStatus(w, http.StatusOK, 1, "OK", "ok")
		return
	}

	d.Removes.Add(1)
	for _, e := range req.Entries {
		if _, ok := d.plates[e.Plate]; !ok {
			writeStatus(w, http.StatusOK, 6, "Invalid Content", "noRecord")
			return
		}
		delete(d.plates, e.Plate)
	}
	writeStatus(w, http.StatusOK, 1, "OK", "ok")
}

// drop closes the connection without a reply.
func drop(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		conn.Close()
	}
}

func writeStatus(w http.ResponseWriter, httpStatus, code int, statusString, sub string) {
	writeJSON(w, httpStatus, map[string]any{
		"statusCode":    code,
		"statusString":  statusString,
		"subStatusCode": sub,
		"errorCode":     0,
		"errorMsg":      "",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

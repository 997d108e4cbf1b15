// Package monitoring serves the state of a running paging core over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/sarchlab/vmcore/monitoring/web"
	"github.com/sarchlab/vmcore/pagedir"
	"github.com/sarchlab/vmcore/spt"
	"github.com/sarchlab/vmcore/tracing"
	"github.com/sarchlab/vmcore/vm"
	"github.com/sarchlab/vmcore/vmm"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a paging core into a server that can be inspected while it
// runs.
type Monitor struct {
	manager     *vmm.Manager
	counter     *tracing.CountTracer
	port        int
	openBrowser bool

	barsLock sync.Mutex
	bars     map[string]*ProgressBar
}

// NewMonitor creates a Monitor that listens on a random port.
func NewMonitor() *Monitor {
	return &Monitor{bars: make(map[string]*ProgressBar)}
}

// WithPortNumber fixes the port of the server. Privileged ports are refused
// and replaced by a random one.
func (m *Monitor) WithPortNumber(port int) *Monitor {
	if port != 0 && port < 1024 {
		log.Printf("monitor: port %d refused, picking a random port", port)
		port = 0
	}

	m.port = port

	return m
}

// WithBrowser makes the monitor open the dashboard once the server starts.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterManager sets the manager to inspect.
func (m *Monitor) RegisterManager(manager *vmm.Manager) {
	m.manager = manager
}

// RegisterCounter sets the tracer that counts paging events.
func (m *Monitor) RegisterCounter(counter *tracing.CountTracer) {
	m.counter = counter
}

// CreateProgressBar adds a bar to the dashboard.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		id:    xid.New().String(),
		name:  name,
		start: time.Now(),
		total: total,
	}

	m.barsLock.Lock()
	m.bars[bar.id] = bar
	m.barsLock.Unlock()

	return bar
}

// CompleteProgressBar takes a bar off the dashboard.
func (m *Monitor) CompleteProgressBar(bar *ProgressBar) {
	m.barsLock.Lock()
	delete(m.bars, bar.id)
	m.barsLock.Unlock()
}

// Router returns the handler of all the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/summary", m.summary)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{pid:[0-9]+}", m.processDetails)
	r.HandleFunc("/api/events", m.listEvents)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() string {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(m.port)))
	dieOnErr(err)

	url := "http://" + net.JoinHostPort("localhost",
		strconv.Itoa(listener.Addr().(*net.TCPAddr).Port))
	log.Printf("monitor: serving on %s", url)

	router := m.Router()
	go func() {
		dieOnErr(http.Serve(listener, router))
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			log.Printf("monitor: cannot open browser: %v", err)
		}
	}

	return url
}

func (m *Monitor) summary(w http.ResponseWriter, _ *http.Request) {
	if !m.managerOr404(w) {
		return
	}

	writeJSON(w, m.manager.Summary())
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	if !m.managerOr404(w) {
		return
	}

	writeJSON(w, m.manager.Frames().Snapshot())
}

type processRsp struct {
	PID         vm.PID `json:"pid"`
	Name        string `json:"name"`
	NumPages    int    `json:"num_pages"`
	NumResident int    `json:"num_resident"`
	NumSwapped  int    `json:"num_swapped"`
	NumDirty    int    `json:"num_dirty"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	if !m.managerOr404(w) {
		return
	}

	rsp := []processRsp{}
	for _, p := range m.manager.Processes() {
		entry := processRsp{PID: p.PID(), Name: p.Name()}

		for _, page := range p.Pages() {
			entry.NumPages++

			switch {
			case page.Resident:
				entry.NumResident++
			case page.Location == spt.LocationSwap:
				entry.NumSwapped++
			}
		}

		for _, mapping := range p.Directory().Entries() {
			if mapping.Present && mapping.Dirty {
				entry.NumDirty++
			}
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

type pageView struct {
	UPage    uint64
	Writable bool
	Location string
	Slot     int64
	Resident bool
	PAddr    uint64
	Accessed bool
	Dirty    bool
}

type processView struct {
	PID   vm.PID
	Name  string
	Pages []pageView
}

func (m *Monitor) processDetails(w http.ResponseWriter, r *http.Request) {
	if !m.managerOr404(w) {
		return
	}

	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, found := m.manager.Process(vm.PID(pid))
	if !found {
		http.Error(w, "Process not found", http.StatusNotFound)
		return
	}

	bits := make(map[uint64]pagedir.Entry)
	for _, entry := range p.Directory().Entries() {
		bits[entry.UPage] = entry
	}

	view := processView{PID: p.PID(), Name: p.Name()}
	for _, page := range p.Pages() {
		pv := pageView{
			UPage:    page.UPage,
			Writable: page.Writable,
			Location: page.Location.String(),
			Slot:     int64(page.Slot),
			Resident: page.Resident,
		}

		if page.Frame != nil {
			pv.PAddr = page.Frame.PAddr()
		}

		if entry, found := bits[page.UPage]; found {
			pv.Accessed = entry.Accessed
			pv.Dirty = entry.Dirty
		}

		view.Pages = append(view.Pages, pv)
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(view)
	serializer.SetMaxDepth(3)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) listEvents(w http.ResponseWriter, _ *http.Request) {
	if m.counter == nil {
		writeJSON(w, map[string]uint64{})
		return
	}

	writeJSON(w, m.counter.Counts())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.barsLock.Lock()
	views := make([]progressView, 0, len(m.bars))
	for _, bar := range m.bars {
		views = append(views, bar.view())
	}
	m.barsLock.Unlock()

	slices.SortFunc(views, func(a, b progressView) int {
		return a.StartTime.Compare(b.StartTime)
	})

	writeJSON(w, views)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
	NumThreads int32   `json:"num_threads"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rsp := resourceRsp{}

	if rsp.CPUPercent, err = self.CPUPercent(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	mem, err := self.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rsp.MemorySize = mem.RSS

	// Thread counts are not available everywhere.
	rsp.NumThreads, _ = self.NumThreads()

	writeJSON(w, rsp)
}

// collectProfile samples the CPU for the requested number of seconds (one by
// default) and returns the parsed profile.
func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if sec, err := strconv.Atoi(r.URL.Query().Get("seconds")); err == nil &&
		sec > 0 && sec <= 30 {
		duration = time.Duration(sec) * time.Second
	}

	var buf bytes.Buffer
	if err := pprof.StartCPUProfile(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	select {
	case <-time.After(duration):
	case <-r.Context().Done():
	}
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func (m *Monitor) managerOr404(w http.ResponseWriter) bool {
	if m.manager != nil {
		return true
	}

	http.Error(w, "No manager registered", http.StatusNotFound)

	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}

package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"git.gammaspectra.live/P2Pool/merged-miner/miner"
	"git.gammaspectra.live/P2Pool/merged-miner/utils"
	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
)

// controller Runs Mine in the background on request, one run at a time
type controller struct {
	ctx    context.Context
	miner  *miner.MergedMiner
	params miner.MineParams

	lock    sync.Mutex
	running bool
	done    chan struct{}
	// clean result of the last finished run, nil while none finished
	lastResult *bool
}

func newController(ctx context.Context, m *miner.MergedMiner, params miner.MineParams) *controller {
	return &controller{
		ctx:    ctx,
		miner:  m,
		params: params,
	}
}

// start Returns false if mining is already running
func (c *controller) start() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.running {
		return false
	}

	c.running = true
	c.done = make(chan struct{})
	c.miner.Start()

	done := c.done
	go func() {
		defer close(done)
		ok := c.miner.Mine(c.ctx, c.params)
		if !ok {
			utils.Errorf("Miner", "Mining terminated with an error")
		}

		c.lock.Lock()
		defer c.lock.Unlock()
		c.running = false
		c.lastResult = &ok
	}()
	return true
}

// stop Stops mining and waits for the run to return
func (c *controller) stop() {
	c.miner.Stop()

	c.lock.Lock()
	done := c.done
	c.lock.Unlock()

	if done != nil {
		<-done
	}
}

// wait Channel closed once the current run returns, nil if never started
func (c *controller) wait() <-chan struct{} {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.done
}

type statusResponse struct {
	Running    bool               `json:"running"`
	Stopping   bool               `json:"stopping"`
	BlockCount uint32             `json:"block_count"`
	Hashes     uint64             `json:"hashes"`
	Pending    int                `json:"pending_messages"`
	LastResult *bool              `json:"last_result,omitempty"`
	LastRound  *miner.RoundResult `json:"last_round,omitempty"`
}

func (c *controller) status() statusResponse {
	c.lock.Lock()
	defer c.lock.Unlock()
	return statusResponse{
		Running:    c.running,
		Stopping:   c.running && c.miner.Stopped(),
		BlockCount: c.miner.GetBlockCount(),
		Hashes:     c.miner.Hashes(),
		Pending:    c.miner.Status().Len(),
		LastResult: c.lastResult,
		LastRound:  c.miner.LastRound(),
	}
}

func writeJson(writer http.ResponseWriter, status int, v any) {
	buf, err := utils.MarshalJSON(v)
	if err != nil {
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	_, _ = writer.Write(buf)
}

func writeError(writer http.ResponseWriter, status int, code string) {
	writeJson(writer, status, struct {
		Error string `json:"error"`
	}{
		Error: code,
	})
}

func newRouter(c *controller) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/start", func(writer http.ResponseWriter, request *http.Request) {
		if !c.start() {
			writeError(writer, http.StatusConflict, "already_running")
			return
		}
		writeJson(writer, http.StatusOK, c.status())
	}).Methods(http.MethodPost)

	router.HandleFunc("/api/stop", func(writer http.ResponseWriter, request *http.Request) {
		c.stop()
		writeJson(writer, http.StatusOK, c.status())
	}).Methods(http.MethodPost)

	router.HandleFunc("/api/status", func(writer http.ResponseWriter, request *http.Request) {
		writeJson(writer, http.StatusOK, c.status())
	}).Methods(http.MethodGet, http.MethodHead)

	router.HandleFunc("/api/message", func(writer http.ResponseWriter, request *http.Request) {
		message, ok := c.miner.GetMessage()
		if !ok {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		writeJson(writer, http.StatusOK, struct {
			Message string `json:"message"`
		}{
			Message: message,
		})
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/messages/ws", func(writer http.ResponseWriter, request *http.Request) {
		conn, err := websocket.Accept(writer, request, nil)
		if err != nil {
			utils.Errorf("API", "websocket accept: %s", err)
			return
		}
		defer conn.CloseNow()

		// incoming frames are ignored, reading detects the peer closing
		ctx := conn.CloseRead(request.Context())
		if err = streamMessages(ctx, conn, c.miner.Status()); err != nil && ctx.Err() == nil {
			utils.Debugf("API", "websocket stream: %s", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}).Methods(http.MethodGet)

	return router
}

// streamMessages Drains the status channel into conn until ctx is cancelled
func streamMessages(ctx context.Context, conn *websocket.Conn, status *miner.StatusChannel) error {
	for {
		for {
			message, ok := status.Pop()
			if !ok {
				break
			}
			writeCtx, cancel := context.WithTimeout(ctx, time.Second*5)
			err := conn.Write(writeCtx, websocket.MessageText, []byte(message))
			cancel()
			if err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-status.Notify():
		}
	}
}

func newServer(bind string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              bind,
		ReadHeaderTimeout: time.Second * 2,
		Handler:           handler,
	}
}

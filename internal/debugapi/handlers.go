package debugapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kacchi-os/kernel/internal/debugapi/middleware"
	"github.com/kacchi-os/kernel/internal/kernel/processmgr"
	"github.com/kacchi-os/kernel/pkg/jsonx"
)

type handlers struct {
	log    *zap.Logger
	kernel Kernel
	creds  middleware.Credentials
}

type loginReq struct {
	Username jsonx.Field[string] `json:"username"`
	Password jsonx.Field[string] `json:"password"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginReq
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	username, _ := req.Username.Value()
	password, _ := req.Password.Value()

	if username != h.creds.Username || password != h.creds.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}

	session := sessions.Default(c)
	session.Set("uid", username)
	csrfToken := uuid.New().String()
	session.Set("csrf", csrfToken)
	if err := session.Save(); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"csrf_token": csrfToken})
}

func (h *handlers) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *handlers) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong", "request_id": middleware.GetRequestID(c)})
}

func (h *handlers) memStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.Memory.Snapshot())
}

func (h *handlers) processTable(c *gin.Context) {
	n := h.kernel.Processes.ProcessCount()
	out := make([]processmgr.PCB, 0, n)
	for pid := uint32(0); pid < n; pid++ {
		pcb, ok := h.kernel.Processes.GetPCB(pid)
		if ok {
			out = append(out, pcb)
		}
	}
	c.Header("X-Total-Count", strconv.Itoa(len(out)))
	c.JSON(http.StatusOK, out)
}

func (h *handlers) processOne(c *gin.Context) {
	pid, err := parsePID(c.Param("pid"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid pid"})
		return
	}
	pcb, ok := h.kernel.Processes.GetPCB(pid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "no such process"})
		return
	}
	c.JSON(http.StatusOK, pcb)
}

func (h *handlers) schedStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"current_time":       h.kernel.Scheduler.CurrentTime(),
		"current_pid":        h.kernel.Scheduler.CurrentPID(),
		"aging_threshold":    processmgr.AgingThreshold,
	})
}

func (h *handlers) events(c *gin.Context) {
	lines := 50
	if v := c.Query("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": h.kernel.Events.Read(lines)})
}

type createProcessReq struct {
	Priority  jsonx.Field[uint32] `json:"priority"`
	StackSize jsonx.Field[uint64] `json:"stack_size"`
	HeapSize  jsonx.Field[uint64] `json:"heap_size"`
}

func (h *handlers) createProcess(c *gin.Context) {
	var req createProcessReq
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	priority, _ := req.Priority.Value()
	stackSize, ok := req.StackSize.Value()
	if !ok {
		stackSize = 4096
	}
	heapSize, ok := req.HeapSize.Value()
	if !ok {
		heapSize = 8192
	}

	now := h.kernel.Scheduler.CurrentTime()
	pid, ok := h.kernel.Processes.Create(priority, stackSize, heapSize, now)
	if !ok {
		c.JSON(http.StatusInsufficientStorage, gin.H{"message": "process creation failed: table or heap exhausted"})
		return
	}

	c.Header("Location", "/api/ps/"+strconv.FormatUint(uint64(pid), 10))
	pcb, _ := h.kernel.Processes.GetPCB(pid)
	c.JSON(http.StatusCreated, pcb)
}

func (h *handlers) terminateProcess(c *gin.Context) {
	pid, err := parsePID(c.Param("pid"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid pid"})
		return
	}
	h.kernel.Processes.Terminate(pid)
	c.JSON(http.StatusOK, gin.H{"pid": pid})
}

func (h *handlers) tick(c *gin.Context) {
	h.kernel.Scheduler.UpdateTime()
	c.JSON(http.StatusOK, gin.H{
		"current_time": h.kernel.Scheduler.CurrentTime(),
		"current_pid":  h.kernel.Scheduler.CurrentPID(),
	})
}

func (h *handlers) applyAging(c *gin.Context) {
	h.kernel.Scheduler.ApplyAging()
	c.JSON(http.StatusOK, gin.H{"message": "aging applied"})
}

func parsePID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.New("invalid pid")
	}
	return uint32(v), nil
}

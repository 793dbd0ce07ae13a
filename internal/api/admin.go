package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/gachamachine/internal/gachaerr"
	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/service"
)

// AdminServer 管理端REST服务器，走独立端口，不对终端用户开放
type AdminServer struct {
	engine *gin.Engine
	svc    *service.GachaService
}

func NewAdminServer(svc *service.GachaService) *AdminServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &AdminServer{engine: engine, svc: svc}
	s.registerRoutes()
	return s
}

func (s *AdminServer) registerRoutes() {
	s.engine.POST("/factory", s.initFactory)
	s.engine.GET("/factory", s.getFactory)

	s.engine.POST("/machines", s.createMachine)
	s.engine.GET("/machines/:id", s.getMachine)
	s.engine.DELETE("/machines/:id", s.closeMachine)

	s.engine.POST("/machines/:id/keys", s.addKey)
	s.engine.POST("/machines/:id/finalize", s.finalize)
	s.engine.POST("/machines/:id/paused", s.setPaused)
	s.engine.POST("/machines/:id/halted", s.setHalted)
	s.engine.POST("/machines/:id/admin", s.transferAdmin)
	s.engine.POST("/machines/:id/decryption-key", s.releaseDecryptionKey)
	s.engine.GET("/machines/:id/pool", s.getPool)

	s.engine.POST("/machines/:id/payment-configs", s.addPaymentConfig)
	s.engine.DELETE("/machines/:id/payment-configs/:currency", s.removePaymentConfig)
	s.engine.GET("/machines/:id/payment-configs", s.listPaymentConfigs)

	s.engine.POST("/accounts", s.createAccount)
	s.engine.GET("/accounts/:address", s.getAccount)
}

// Start 启动管理端服务器
func (s *AdminServer) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("管理端服务已启动: http://localhost%s", addr)
	return s.engine.Run(addr)
}

func (s *AdminServer) initFactory(c *gin.Context) {
	var req struct {
		Admin string `json:"admin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.InitFactory(req.Admin); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"admin": req.Admin})
}

func (s *AdminServer) getFactory(c *gin.Context) {
	factory, err := s.svc.Factory()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, factory)
}

func (s *AdminServer) createMachine(c *gin.Context) {
	var req struct {
		Admin string `json:"admin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	machine, err := s.svc.CreateMachine(req.Admin)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, machine)
}

func (s *AdminServer) getMachine(c *gin.Context) {
	machine, err := s.svc.Machine(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, machine)
}

func (s *AdminServer) closeMachine(c *gin.Context) {
	var req struct {
		Actor string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.CloseAll(req.Actor, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (s *AdminServer) addKey(c *gin.Context) {
	var req struct {
		Actor string `json:"actor" binding:"required"`
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.AddKey(req.Actor, c.Param("id"), []byte(req.Token)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": true})
}

func (s *AdminServer) finalize(c *gin.Context) {
	var req struct {
		Actor string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.Finalize(req.Actor, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalized": true})
}

func (s *AdminServer) setPaused(c *gin.Context) {
	var req struct {
		Actor  string `json:"actor" binding:"required"`
		Paused *bool  `json:"paused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.SetPaused(req.Actor, c.Param("id"), *req.Paused); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": *req.Paused})
}

func (s *AdminServer) setHalted(c *gin.Context) {
	var req struct {
		Actor  string `json:"actor" binding:"required"`
		Halted *bool  `json:"halted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.SetHalted(req.Actor, c.Param("id"), *req.Halted); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"halted": *req.Halted})
}

func (s *AdminServer) transferAdmin(c *gin.Context) {
	var req struct {
		Actor    string `json:"actor" binding:"required"`
		NewAdmin string `json:"newAdmin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.TransferAdmin(req.Actor, c.Param("id"), req.NewAdmin); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin": req.NewAdmin})
}

func (s *AdminServer) releaseDecryptionKey(c *gin.Context) {
	var req struct {
		Actor string `json:"actor" binding:"required"`
		Key   string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.ReleaseDecryptionKey(req.Actor, c.Param("id"), []byte(req.Key)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (s *AdminServer) getPool(c *gin.Context) {
	record, err := s.svc.PoolStatus(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"keyCount":    record.TokenCount(),
		"remaining":   record.RemainingCount(),
		"capacity":    record.Capacity(),
		"growSteps":   record.GrowSteps(),
		"keyReleased": len(record.DecryptionKey()) > 0,
	})
}

func (s *AdminServer) addPaymentConfig(c *gin.Context) {
	var req struct {
		Actor      string `json:"actor" binding:"required"`
		CurrencyID string `json:"currencyId" binding:"required"`
		Price      uint64 `json:"price" binding:"required"`
		Recipient  string `json:"recipient" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.AddPaymentConfig(req.Actor, c.Param("id"), req.CurrencyID, req.Price, req.Recipient); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"currency": req.CurrencyID})
}

func (s *AdminServer) removePaymentConfig(c *gin.Context) {
	var req struct {
		Actor string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.RemovePaymentConfig(req.Actor, c.Param("id"), c.Param("currency")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (s *AdminServer) listPaymentConfigs(c *gin.Context) {
	configs, err := s.svc.PaymentConfigs(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (s *AdminServer) createAccount(c *gin.Context) {
	var req struct {
		Address      string `json:"address" binding:"required"`
		OwnerProgram string `json:"ownerProgram" binding:"required"`
		Holder       string `json:"holder" binding:"required"`
		CurrencyID   string `json:"currencyId"`
		Balance      uint64 `json:"balance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc := &model.LedgerAccount{
		Address:      req.Address,
		OwnerProgram: req.OwnerProgram,
		Holder:       req.Holder,
		CurrencyID:   req.CurrencyID,
		Balance:      req.Balance,
	}
	if err := s.svc.CreateAccount(acc); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acc)
}

func (s *AdminServer) getAccount(c *gin.Context) {
	acc, err := s.svc.Account(c.Param("address"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// abortWithError 把领域错误翻译成HTTP状态码
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gachaerr.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, gachaerr.ErrMachineNotFound),
		errors.Is(err, gachaerr.ErrTicketNotFound),
		errors.Is(err, gachaerr.ErrFactoryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gachaerr.ErrFactoryExists),
		errors.Is(err, gachaerr.ErrDuplicateCurrency),
		errors.Is(err, gachaerr.ErrAlreadyFinalized),
		errors.Is(err, gachaerr.ErrAlreadySettled),
		errors.Is(err, gachaerr.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, gachaerr.ErrEmptyPool),
		errors.Is(err, gachaerr.ErrPoolFull),
		errors.Is(err, gachaerr.ErrEmptyToken),
		errors.Is(err, gachaerr.ErrInvalidTokenLength),
		errors.Is(err, gachaerr.ErrInvalidPaymentConfig),
		errors.Is(err, gachaerr.ErrGachaNotComplete),
		errors.Is(err, gachaerr.ErrNotFinalized):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package graph

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/lvdashuaibi/gachamachine/config"
	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/oracle"
	"github.com/lvdashuaibi/gachamachine/internal/service"
)

// GraphQLServer GraphQL服务器
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

// 读取GraphQL Schema定义
// 槽位和价格是无界的uint64，用String表示避免Int溢出；
// 抽取序号和各类计数受奖池上限(500)约束，Int足够
const schemaString = `
type Machine {
  id: String!
  admin: String!
  isFinalized: Boolean!
  isPaused: Boolean!
  isHalted: Boolean!
  pullCount: Int!
  settleCount: Int!
  createdAt: String!
}

type PaymentConfig {
  currencyId: String!
  price: String!
  recipient: String!
}

type Ticket {
  machineId: String!
  nonce: Int!
  user: String!
  randomnessRef: String!
  currencyId: String!
  isSettled: Boolean!
  pullSlot: String!
  resultIndex: Int!
  rewardToken: String!
  createdAt: String!
}

type OracleRound {
  ref: String!
  slot: String!
  revealed: Boolean!
  value: String!
}

type PullResponse {
  success: Boolean!
  message: String!
  nonce: Int!
  pullSlot: String!
  timestamp: String!
}

type SettleResponse {
  success: Boolean!
  message: String!
  resultIndex: Int!
  rewardToken: String!
  timestamp: String!
}

input PullInput {
  machineId: String!
  user: String!
  currencyId: String!
  paymentAccount: String!
  recipientAccount: String!
  currencyAccount: String
}

type Query {
  # 查询扭蛋机状态
  getMachine(machineId: String!): Machine!

  # 查询扭蛋机的支付配置
  getPaymentConfigs(machineId: String!): [PaymentConfig!]!

  # 查询抽取记录
  getTicket(machineId: String!, nonce: Int!): Ticket!

  # 查询当前可用于抽取的随机数轮次
  getPullableRound: OracleRound!
}

type Mutation {
  # 支付并抽取，结果留待结算时揭晓
  pull(input: PullInput!): PullResponse!

  # 用揭示后的随机数结算一次抽取
  settle(machineId: String!, nonce: Int!): SettleResponse!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewGraphQLServer 创建新的GraphQL服务器
func NewGraphQLServer(gachaService *service.GachaService, oracleService *oracle.Service) *GraphQLServer {
	resolver := NewResolver(gachaService, oracleService)

	// 解析Schema并创建GraphQL实例
	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	handler := &relay.Handler{Schema: schema}

	return &GraphQLServer{
		schema:   schema,
		handler:  handler,
		resolver: resolver,
	}
}

// Start 启动GraphQL服务器
func (s *GraphQLServer) Start(port int) error {
	// 创建路由
	mux := http.NewServeMux()

	// 设置GraphQL API端点
	mux.Handle(config.AppConfig.GraphQL.Path, s.handler)

	// 设置GraphQL Playground
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML))
	})

	// 启动服务器
	addr := fmt.Sprintf(":%d", port)
	log.Printf("GraphQL服务已启动，API端点: %s, Playground: http://localhost%s/",
		config.AppConfig.GraphQL.Path, addr)

	return http.ListenAndServe(addr, mux)
}

// Resolver GraphQL解析器
type Resolver struct {
	gachaService  *service.GachaService
	oracleService *oracle.Service
}

// NewResolver 创建新的解析器
func NewResolver(gachaService *service.GachaService, oracleService *oracle.Service) *Resolver {
	return &Resolver{gachaService: gachaService, oracleService: oracleService}
}

// GetMachine 查询扭蛋机状态
func (r *Resolver) GetMachine(ctx context.Context, args struct{ MachineID string }) (*MachineResolver, error) {
	machine, err := r.gachaService.Machine(args.MachineID)
	if err != nil {
		return nil, err
	}
	return &MachineResolver{machine: machine}, nil
}

// GetPaymentConfigs 查询扭蛋机的支付配置
func (r *Resolver) GetPaymentConfigs(ctx context.Context, args struct{ MachineID string }) ([]*PaymentConfigResolver, error) {
	configs, err := r.gachaService.PaymentConfigs(args.MachineID)
	if err != nil {
		return nil, err
	}

	resolvers := make([]*PaymentConfigResolver, len(configs))
	for i, cfg := range configs {
		resolvers[i] = &PaymentConfigResolver{cfg: cfg}
	}
	return resolvers, nil
}

// GetTicket 查询抽取记录
func (r *Resolver) GetTicket(ctx context.Context, args struct {
	MachineID string
	Nonce     int32
}) (*TicketResolver, error) {
	ticket, err := r.gachaService.Ticket(args.MachineID, uint64(args.Nonce))
	if err != nil {
		return nil, err
	}
	return &TicketResolver{ticket: ticket}, nil
}

// GetPullableRound 查询当前可用于抽取的随机数轮次
func (r *Resolver) GetPullableRound(ctx context.Context) (*OracleRoundResolver, error) {
	round, err := r.oracleService.PullableRound()
	if err != nil {
		return nil, err
	}
	return &OracleRoundResolver{round: round}, nil
}

// Pull 支付并抽取
func (r *Resolver) Pull(ctx context.Context, args struct{ Input PullInput }) (*PullResponseResolver, error) {
	failResponse := &PullResponseResolver{
		response: &model.PullResponse{
			Success:   false,
			Message:   "抽取失败",
			Timestamp: time.Now(),
		},
	}

	// 抽取自动绑定当前可用的随机数轮次
	round, err := r.oracleService.PullableRound()
	if err != nil {
		return failResponse, err
	}

	currencyAccount := ""
	if args.Input.CurrencyAccount != nil {
		currencyAccount = *args.Input.CurrencyAccount
	}

	request := &model.PullRequest{
		MachineID:        args.Input.MachineID,
		User:             args.Input.User,
		CurrencyID:       args.Input.CurrencyID,
		PaymentAccount:   args.Input.PaymentAccount,
		RecipientAccount: args.Input.RecipientAccount,
		CurrencyAccount:  currencyAccount,
		RandomnessRef:    round.Ref,
	}

	response, err := r.gachaService.Pull(request)
	if err != nil {
		failResponse.response.Message = fmt.Sprintf("抽取失败: %v", err)
		return failResponse, err
	}

	return &PullResponseResolver{response: response}, nil
}

// Settle 结算一次抽取
func (r *Resolver) Settle(ctx context.Context, args struct {
	MachineID string
	Nonce     int32
}) (*SettleResponseResolver, error) {
	failResponse := &SettleResponseResolver{
		response: &model.SettleResponse{
			Success:   false,
			Message:   "结算失败",
			Timestamp: time.Now(),
		},
	}

	response, err := r.gachaService.Settle(&model.SettleRequest{
		MachineID: args.MachineID,
		Nonce:     uint64(args.Nonce),
	})
	if err != nil {
		failResponse.response.Message = fmt.Sprintf("结算失败: %v", err)
		return failResponse, err
	}

	return &SettleResponseResolver{response: response}, nil
}

// MachineResolver 扭蛋机解析器
type MachineResolver struct {
	machine *model.GachaMachine
}

func (r *MachineResolver) ID() string {
	return r.machine.ID
}

func (r *MachineResolver) Admin() string {
	return r.machine.Admin
}

func (r *MachineResolver) IsFinalized() bool {
	return r.machine.IsFinalized
}

func (r *MachineResolver) IsPaused() bool {
	return r.machine.IsPaused
}

func (r *MachineResolver) IsHalted() bool {
	return r.machine.IsHalted
}

func (r *MachineResolver) PullCount() int32 {
	return int32(r.machine.PullCount)
}

func (r *MachineResolver) SettleCount() int32 {
	return int32(r.machine.SettleCount)
}

func (r *MachineResolver) CreatedAt() string {
	return r.machine.CreatedAt.Format(time.RFC3339)
}

// PaymentConfigResolver 支付配置解析器
type PaymentConfigResolver struct {
	cfg *model.PaymentConfig
}

func (r *PaymentConfigResolver) CurrencyID() string {
	return r.cfg.CurrencyID
}

func (r *PaymentConfigResolver) Price() string {
	return strconv.FormatUint(r.cfg.Price, 10)
}

func (r *PaymentConfigResolver) Recipient() string {
	return r.cfg.Recipient
}

// TicketResolver 抽取记录解析器
type TicketResolver struct {
	ticket *model.Ticket
}

func (r *TicketResolver) MachineID() string {
	return r.ticket.MachineID
}

func (r *TicketResolver) Nonce() int32 {
	return int32(r.ticket.Nonce)
}

func (r *TicketResolver) User() string {
	return r.ticket.User
}

func (r *TicketResolver) RandomnessRef() string {
	return r.ticket.RandomnessRef
}

func (r *TicketResolver) CurrencyID() string {
	return r.ticket.CurrencyID
}

func (r *TicketResolver) IsSettled() bool {
	return r.ticket.IsSettled
}

func (r *TicketResolver) PullSlot() string {
	return strconv.FormatUint(r.ticket.PullSlot, 10)
}

func (r *TicketResolver) ResultIndex() int32 {
	return int32(r.ticket.ResultIndex)
}

func (r *TicketResolver) RewardToken() string {
	return hex.EncodeToString(r.ticket.RewardToken)
}

func (r *TicketResolver) CreatedAt() string {
	return r.ticket.CreatedAt.Format(time.RFC3339)
}

// OracleRoundResolver 预言机轮次解析器
type OracleRoundResolver struct {
	round *model.OracleRound
}

func (r *OracleRoundResolver) Ref() string {
	return r.round.Ref
}

func (r *OracleRoundResolver) Slot() string {
	return strconv.FormatUint(r.round.Slot, 10)
}

func (r *OracleRoundResolver) Revealed() bool {
	return r.round.Resolved()
}

func (r *OracleRoundResolver) Value() string {
	return hex.EncodeToString(r.round.Value)
}

// PullResponseResolver 抽取响应解析器
type PullResponseResolver struct {
	response *model.PullResponse
}

func (r *PullResponseResolver) Success() bool {
	return r.response.Success
}

func (r *PullResponseResolver) Message() string {
	return r.response.Message
}

func (r *PullResponseResolver) Nonce() int32 {
	return int32(r.response.Nonce)
}

func (r *PullResponseResolver) PullSlot() string {
	return strconv.FormatUint(r.response.PullSlot, 10)
}

func (r *PullResponseResolver) Timestamp() string {
	return r.response.Timestamp.Format(time.RFC3339)
}

// SettleResponseResolver 结算响应解析器
type SettleResponseResolver struct {
	response *model.SettleResponse
}

func (r *SettleResponseResolver) Success() bool {
	return r.response.Success
}

func (r *SettleResponseResolver) Message() string {
	return r.response.Message
}

func (r *SettleResponseResolver) ResultIndex() int32 {
	return int32(r.response.ResultIndex)
}

func (r *SettleResponseResolver) RewardToken() string {
	return r.response.RewardToken
}

func (r *SettleResponseResolver) Timestamp() string {
	return r.response.Timestamp.Format(time.RFC3339)
}

// 抽取输入类型
type PullInput struct {
	MachineID        string
	User             string
	CurrencyID       string
	PaymentAccount   string
	RecipientAccount string
	CurrencyAccount  *string
}

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Gacha Machine GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
      img {
        width: 78px;
        height: 78px;
      }
      .title {
        font-weight: 400;
      }
    </style>
    <img src='https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/logo.png' alt=''>
    <div class="loading">
      <span class="title">Gacha Machine GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvdashuaibi/gachamachine/config"
	"github.com/lvdashuaibi/gachamachine/internal/api"
	"github.com/lvdashuaibi/gachamachine/internal/api/graph"
	intkafka "github.com/lvdashuaibi/gachamachine/internal/kafka"
	"github.com/lvdashuaibi/gachamachine/internal/lock"
	"github.com/lvdashuaibi/gachamachine/internal/model"
	"github.com/lvdashuaibi/gachamachine/internal/oracle"
	"github.com/lvdashuaibi/gachamachine/internal/payment"
	"github.com/lvdashuaibi/gachamachine/internal/repository"
	"github.com/lvdashuaibi/gachamachine/internal/service"
	"github.com/lvdashuaibi/gachamachine/internal/worker"
)

const (
	ServiceStartLockName = "gachamachine:service:start:lock"
	LockAcquireTimeout   = 30 * time.Second
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建数据库连接
	mysqlRepo, err := repository.NewMySQLRepository()
	if err != nil {
		log.Fatalf("初始化MySQL仓库失败: %v", err)
	}
	defer mysqlRepo.Close()
	log.Printf("MySQL仓库初始化成功")

	// 创建Redis连接
	redisRepo, err := repository.NewRedisRepository()
	if err != nil {
		log.Fatalf("初始化Redis仓库失败: %v", err)
	}
	defer redisRepo.Close()
	log.Printf("Redis仓库初始化成功")

	// 创建ETCD分布式锁（服务启动选主、自动结算器选主）
	etcdLock, err := lock.NewETCDLock()
	if err != nil {
		log.Fatalf("初始化ETCD分布式锁失败: %v", err)
	}
	defer etcdLock.Close()
	log.Printf("ETCD分布式锁初始化成功")

	// 创建Redis分布式锁（预言机节拍器用）
	redLock, err := lock.NewRedLock()
	if err != nil {
		log.Fatalf("初始化Redis分布式锁失败: %v", err)
	}
	defer redLock.Close()
	log.Printf("Redis分布式锁初始化成功")

	// 获取服务启动锁，持锁实例承担预言机节拍器职责
	lockAcquired, err := etcdLock.AcquireLock(ServiceStartLockName, LockAcquireTimeout)
	if err != nil {
		log.Printf("获取服务启动锁失败: %v，将以普通节点模式启动", err)
	}

	var isBeaconProducer bool
	if lockAcquired {
		log.Printf("实例 %d 获取服务启动锁成功，将作为预言机节拍生产者启动", *instanceID)
		isBeaconProducer = true
		defer etcdLock.ReleaseLock(ServiceStartLockName)
	} else {
		log.Printf("实例 %d 未获取到服务启动锁，以普通节点模式启动", *instanceID)
		isBeaconProducer = false
	}

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 启动预言机节拍器 (只有持锁的实例才会真正推进槽位)
	beacon := oracle.NewBeacon(redisRepo, mysqlRepo, redLock, isBeaconProducer)
	beacon.Start()
	defer beacon.Stop()
	log.Printf("预言机节拍器初始化成功，节拍生产者模式: %v", isBeaconProducer)

	// 创建预言机读取服务
	oracleService := oracle.NewService(redisRepo, mysqlRepo)

	// 创建扭蛋机核心服务
	gachaService := service.NewGachaService(
		mysqlRepo, redisRepo, oracleService,
		payment.NewProcessor(mysqlRepo), producer,
	)
	log.Printf("扭蛋机服务初始化成功")

	// 启动Kafka消费者：事件落审计表并同步失效缓存
	consumer.StartConsuming(func(event *model.GachaEvent) error {
		if err := mysqlRepo.SaveEventLog(event); err != nil {
			return err
		}
		if event.MachineID != "" {
			return redisRepo.DeleteMachineCache(event.MachineID)
		}
		return nil
	})
	log.Printf("Kafka消费者已启动")

	// 启动自动结算器（通过ETCD锁选主）
	settler := worker.NewSettler(gachaService, mysqlRepo, oracleService, etcdLock)
	settler.Start()
	defer settler.Stop()

	// 创建GraphQL服务
	graphqlServer := graph.NewGraphQLServer(gachaService, oracleService)
	log.Printf("GraphQL服务初始化成功")

	// 创建管理端REST服务
	adminServer := api.NewAdminServer(gachaService)
	log.Printf("管理端服务初始化成功")

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1
	adminPort := cfg.Server.AdminPort + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := graphqlServer.Start(serverPort); err != nil {
			log.Fatalf("启动GraphQL服务器失败: %v", err)
		}
	}()
	go func() {
		if err := adminServer.Start(adminPort); err != nil {
			log.Fatalf("启动管理端服务器失败: %v", err)
		}
	}()

	log.Printf("Gacha Machine 系统 (实例 %d) 已启动，服务地址: http://localhost:%d, 管理端: http://localhost:%d",
		*instanceID, serverPort, adminPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}

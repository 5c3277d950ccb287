package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/email"
	"github.com/suPer8Hu/gopherchat/internal/notify"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
)

const (
	maxAttempts = 3
	retryDelay  = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromArgs("worker", os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required for the worker")
	}

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	smtpCfg := email.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}
	var mailer notify.Mailer
	if smtpCfg.Enabled() {
		mailer = notify.SMTPMailer{Config: smtpCfg}
	} else {
		log.Printf("smtp not configured, notifications will be logged only")
	}
	svc := notify.NewService(repo, mailer)

	concurrency := cfg.WorkerConcurrency

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatalf("rabbit consumer: %v", err)
	}
	defer consumer.Close()

	retrier, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer retrier.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, workerID, svc, retrier, d)
			}
		}(i)
	}

	msgs := consumer.Deliveries()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, workerID int, svc *notify.Service, retrier *rabbitmq.Publisher, d amqp.Delivery) {
	ev, err := rabbitmq.DecodeMessageEvent(d.Body)
	if err != nil {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	outcome, err := svc.Handle(ctx, ev)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Printf("worker=%d ack failed message=%s err=%v", workerID, ev.MessageID, err)
		}
		if cost := time.Since(start); cost > 2*time.Second {
			log.Printf("notify_timing message=%s outcome=%s total=%s", ev.MessageID, outcome, cost)
		}
		return
	}

	if ctx.Err() != nil {
		// interrupted by shutdown; hand it back to the queue
		_ = d.Nack(false, true)
		return
	}

	attempts := rabbitmq.Attempts(d) + 1
	if attempts >= maxAttempts {
		log.Printf("worker=%d message=%s failed attempts=%d cost=%s err=%v, dead-lettering", workerID, ev.MessageID, attempts, time.Since(start), err)
		_ = d.Nack(false, false)
		return
	}

	log.Printf("worker=%d message=%s failed attempts=%d err=%v, retrying in %s", workerID, ev.MessageID, attempts, err, retryDelay)
	if rerr := retrier.Retry(ctx, d.Body, attempts, retryDelay); rerr != nil {
		log.Printf("worker=%d retry publish failed message=%s err=%v", workerID, ev.MessageID, rerr)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

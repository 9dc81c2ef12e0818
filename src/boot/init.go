package boot

import (
	"context"
	"daypass/src/config"
	"daypass/src/db"
	"daypass/src/delivery"
	"daypass/src/lib"
	"daypass/src/models"
	"daypass/src/reconciler"
	"log"
	"time"

	"gorm.io/gorm"
)

const (
	recoveryInterval    = time.Minute
	recoveryMaxAttempts = 5
	recoveryBatchSize   = 50
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(models.All()...)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

// InitScheduler registers the background jobs and starts the scheduler: the
// outbox fan-out, the delivery retry sweep and stalled webhook recovery.
func InitScheduler(worker *delivery.Worker, rec *reconciler.Reconciler) {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	interval := config.DeliveryInterval()
	if _, err := lib.CreateIntervalJob("outbox-delivery", interval, func() {
		if _, err := worker.DeliverPending(context.Background()); err != nil {
			log.Printf("[Scheduler] Outbox delivery failed: %s\n", err.Error())
		}
	}); err != nil {
		log.Printf("Error scheduling outbox delivery: %s\n", err.Error())
	}
	if _, err := lib.CreateIntervalJob("delivery-retry", interval, func() {
		if _, err := worker.RetryDue(context.Background()); err != nil {
			log.Printf("[Scheduler] Delivery retry sweep failed: %s\n", err.Error())
		}
	}); err != nil {
		log.Printf("Error scheduling delivery retries: %s\n", err.Error())
	}
	if _, err := lib.CreateIntervalJob("webhook-recovery", recoveryInterval, func() {
		if _, err := rec.RecoverStalled(context.Background(), recoveryMaxAttempts, recoveryBatchSize); err != nil {
			log.Printf("[Scheduler] Webhook recovery failed: %s\n", err.Error())
		}
	}); err != nil {
		log.Printf("Error scheduling webhook recovery: %s\n", err.Error())
	}
	log.Println("Jobs in queue:", len(sched.Jobs()))
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while shutting stopping Scheduler. Check logs for info")
		return
	}
}

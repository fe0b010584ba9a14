// Command redisq-demo pushes a burst of documents into a redisq queue
// backed by a real Redis server, processes them with a handler that
// randomly succeeds or fails, and logs periodic Recorder snapshots until
// interrupted.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	uuid "github.com/satori/go.uuid"

	"github.com/Anebrithien/redisq"
)

// job is generated with a fresh uuid per push rather than a sequence
// number, so a demo run against a shared Redis namespace never collides
// with IDs from a previous run.
type job struct {
	UUID string `json:"uuid"`
	Num  int    `json:"num"`
}

func (j job) ID() string { return j.UUID }

func main() {
	var (
		redisAddr   = flag.String("redis", "localhost:6379", "Redis server")
		redisdb     = flag.Int("redis-db", 0, "Redis database")
		namespace   = flag.String("namespace", "redisq_demo", "queue name")
		numDocs     = flag.Int("n", 1000, "number of documents to push")
		lockTime    = flag.Duration("lock-time", 10*time.Second, "consumer lock TTL")
		ttlState    = flag.Duration("ttl-state", 2*time.Minute, "content/state TTL")
		discardTime = flag.Duration("discard-time", 30*time.Second, "max age before a claimed document is discarded")
		timeout     = flag.Duration("timeout", 2*time.Second, "blocking pop timeout")
		runTime     = flag.Duration("run-time", 20*time.Millisecond, "max handler run time")
		failureRate = flag.Float64("failure-rate", 0.05, "handler failure rate [0.0,1.0]")
		logInterval = flag.Duration("log-interval", 2*time.Second, "log interval for stats")
	)
	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	logger := redisq.NewStdLogger()
	store := redisq.NewRedisStore(*redisAddr, "", *redisdb)
	registry := gometrics.NewRegistry()
	recorder := redisq.NewGoMetricsRecorder(*namespace, registry)

	q, err := redisq.New(redisq.Config[job]{
		Name:         *namespace,
		Store:        store,
		Logger:       logger,
		Recorder:     recorder,
		Handler:      makeHandler(*failureRate, *runTime),
		Timeout:      *timeout,
		TTLStateInfo: *ttlState,
		LockTime:     *lockTime,
		DiscardTime:  *discardTime,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := q.StartConsumer(); err != nil {
		log.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- fill(q, *numDocs) }()
	go logStats(registry, *logInterval)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		<-c
		errc <- q.Close()
	}()

	if err := <-errc; err != nil {
		log.Fatal(err)
	}
	log.Print("exiting")
}

func fill(q *redisq.Queue[job], n int) error {
	for i := 0; i < n; i++ {
		if err := q.Push(job{UUID: uuid.NewV4().String(), Num: i}); err != nil {
			return err
		}
	}
	return nil
}

func makeHandler(failureRate float64, runTime time.Duration) redisq.Handler[job] {
	runTimeNanos := runTime.Nanoseconds()
	return func(q *redisq.Queue[job], j job) {
		if runTimeNanos > 0 {
			time.Sleep(time.Duration(rand.Int63n(runTimeNanos)))
		}
		if rand.Float64() < failureRate {
			_ = q.SetState(j.ID(), redisq.StateFailed, "simulated failure")
			return
		}
		_ = q.SetState(j.ID(), redisq.StateDone, "")
	}
}

func logStats(registry gometrics.Registry, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for range t.C {
		registry.Each(func(name string, i interface{}) {
			switch m := i.(type) {
			case gometrics.Timer:
				fmt.Printf("%s count=%d mean=%.2fms\n", name, m.Count(), m.Mean()/1e6)
			case gometrics.GaugeFloat64:
				fmt.Printf("%s value=%.0f\n", name, m.Value())
			case gometrics.Counter:
				fmt.Printf("%s count=%d\n", name, m.Count())
			}
		})
	}
}

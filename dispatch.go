package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
)

const (
	histogramMin     = 1
	histogramMax     = int64(time.Hour / time.Microsecond)
	histogramSigFigs = 3
)

type generateFunc func(start, end int) []user

// dispatcher 把写入任务切分成批次并发执行
type dispatcher struct {
	pool      Pool
	batchSize int
	// concurrency 同时执行的批次上限，<= 0 时取连接池大小
	concurrency int
	generate    generateFunc
	metrics     *metrics
}

type batchOutcome struct {
	Batch    batch
	Inserted int64
	Duration time.Duration
	Err      error
}

// RunReport 一次分发的汇总结果
type RunReport struct {
	Total       int
	Batches     int
	Concurrency int
	Inserted    int64
	// Failures 按完成顺序排列
	Failures []batchOutcome
	Duration time.Duration

	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Err 没有失败批次时返回 nil
func (r *RunReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &BatchFailure{
		First:   r.Failures[0],
		Failed:  len(r.Failures),
		Batches: r.Batches,
	}
}

// RowsPerSecond 驱动报告的写入吞吐
func (r *RunReport) RowsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Inserted) / r.Duration.Seconds()
}

func (r *RunReport) String() string {
	return fmt.Sprintf("duration: %s, concurrency: %d, batches: %d, failed: %d, inserted: %d, rows/s: %.2f, p50: %s, p95: %s, p99: %s",
		r.Duration, r.Concurrency, r.Batches, len(r.Failures), r.Inserted, r.RowsPerSecond(), r.P50, r.P95, r.P99)
}

// Run 所有批次在分发时全部启动，并发度由信号量和连接池共同限制
//
// 单个批次失败不影响其它批次，等待全部结束后汇总。
// 已启动的批次不随 ctx 取消而中止。
func (d *dispatcher) Run(ctx context.Context, total int) (*RunReport, error) {
	batches, err := partition(total, d.batchSize)
	if err != nil {
		return nil, err
	}

	concurrency := d.concurrency
	if concurrency <= 0 {
		concurrency = d.pool.Stats().Max
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	generate := d.generate
	if generate == nil {
		generate = generateUsers
	}

	ctx = context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(concurrency))

	startTime := time.Now()
	report := &RunReport{
		Total:       total,
		Batches:     len(batches),
		Concurrency: concurrency,
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted atomic.Int64
		hist     = hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
	)
	for _, b := range batches {
		wg.Add(1)

		go func(b batch) {
			defer wg.Done()

			o := d.runBatch(ctx, sem, generate, b)
			d.metrics.observeBatch(o)
			inserted.Add(o.Inserted)

			micros := min(max(o.Duration.Microseconds(), histogramMin), histogramMax)

			// hdrhistogram 非并发安全
			mu.Lock()
			_ = hist.RecordValue(micros)
			if o.Err != nil {
				report.Failures = append(report.Failures, o)
			}
			mu.Unlock()

			if o.Err != nil {
				slog.Warn("batch failed",
					slog.Int("start", b.Start),
					slog.Int("end", b.End),
					slog.String("reason", failureReason(o.Err)),
					slog.Any("error", o.Err))
				return
			}
			slog.Debug("batch done",
				slog.Int("start", b.Start),
				slog.Int("end", b.End),
				slog.Int64("inserted", o.Inserted),
				slog.Duration("duration", o.Duration))
		}(b)
	}
	wg.Wait()

	report.Duration = time.Since(startTime)
	report.Inserted = inserted.Load()
	report.P50 = time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond
	report.P95 = time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond
	report.P99 = time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond

	return report, nil
}

func (d *dispatcher) runBatch(ctx context.Context, sem *semaphore.Weighted, generate generateFunc, b batch) (o batchOutcome) {
	o.Batch = b

	if err := sem.Acquire(ctx, 1); err != nil {
		o.Err = err
		return
	}
	defer sem.Release(1)

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.Inserted = 0
			o.Err = fmt.Errorf("batch [%d, %d) panicked, %v", b.Start, b.End, r)
		}
		o.Duration = time.Since(startTime)
	}()

	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		o.Err = err
		return
	}
	defer conn.Release()
	d.metrics.observeAcquire(time.Since(startTime), d.pool.Stats())

	n, err := conn.InsertUsers(ctx, generate(b.Start, b.End))
	if err != nil {
		o.Err = fmt.Errorf("insert batch [%d, %d), %w", b.Start, b.End, err)
		return
	}
	o.Inserted = n
	return
}

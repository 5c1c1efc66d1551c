/*
Package echotest drives ISO 8583 network management echo tests over a pool
of persistent TCP connections.

# Overview

The echotest package implements the client side of the harness:
  - Partitioning of iterations across concurrent workers
  - Echo request construction (fields 7, 11, 37 and 70)
  - Send, bounded wait and result recording per iteration
  - Aggregate statistics with percentiles
  - Database persistence of runs and per-iteration results

# Architecture

The package consists of four main components:

1. Executor (executor.go): concurrent iteration engine
2. Config (config.go): configuration, validation and the run record
3. Stats (stats.go): success, error and response time aggregation
4. Manager (manager.go): SQLite persistence for runs and results

# Executor Design

Iterations 1..N are split into contiguous blocks of ceil(N/W) (see
Partition). Each worker runs its block strictly in order, so a worker never
has two requests in flight; workers run concurrently with each other.

Per iteration:
 1. Acquire a pool connection. Acquisition never waits: when every
    connection is busy the iteration fails at once with "no connection
    available" and connection id 0.
 2. Build a fresh 0800 and send it framed.
 3. Wait for the response until the response timeout. Responses whose
    trace number belongs to an earlier, timed out request are dropped.
 4. Release the connection and record the result.

A transport or framing failure takes the connection out of the pool for
the rest of the run. Cancelling the context stops every worker at its next
iteration boundary; a request already on the wire is allowed to finish.

Results from all workers are merged and ordered by iteration number before
the Report is returned.

# Database Schema

SQLite database stores:
  - echo_runs: one row per run with its configuration and final figures
  - echo_results: one row per iteration attempt

# Example Usage

	p, err := pool.Dial(ctx, pool.Options{Host: "127.0.0.1", Port: 5000, Size: 4, ConnectTimeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer p.CloseAll()

	config := &echotest.Config{
		Iterations:      1000,
		Workers:         4,
		ResponseTimeout: 5 * time.Second,
	}

	executor, err := echotest.NewExecutor(config, p, echotest.WithLogger(logger))
	if err != nil {
		return err
	}

	report, err := executor.Run(ctx)
	fmt.Printf("Success rate: %.2f%%\n", report.Stats.SuccessRate())
*/
package echotest

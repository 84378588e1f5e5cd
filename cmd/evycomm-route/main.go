// Command evycomm-route explains a routing decision offline: it classifies
// a synthetic or file-provided payload, runs it through the default policy
// table and scorer against baseline layer profiles, and prints the outcome.
// Useful for answering "why did this go over SMS" without a running node.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/layers"
	"github.com/srex-dev/EVY-sub000/pkg/route"
)

func main() {
	typ := flag.String("type", "inference", "query type: inference|retrieval|sync|status|emergency-alert")
	level := flag.Int("level", 0, "emergency level, 0 = none")
	size := flag.Int("size", 512, "synthesized payload size in bytes when no file is given")
	file := flag.String("file", "", "read the payload from this file instead")
	down := flag.String("down", "", "comma-separated layers to mark unavailable")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	qt, err := comm.ParseQueryType(*typ)
	if err != nil {
		log.Fatal(err)
	}

	payload := make([]byte, *size)
	if *file != "" {
		payload, err = os.ReadFile(*file)
		if err != nil {
			log.Fatal(err)
		}
	}

	unavailable := map[comm.Layer]bool{}
	for _, name := range strings.Split(*down, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		l, err := comm.ParseLayer(name)
		if err != nil {
			log.Fatal(err)
		}
		unavailable[l] = true
	}

	reg := layers.NewRegistry(time.Hour, time.Hour)
	for _, l := range comm.Layers() {
		if !unavailable[l] {
			reg.SetSource(l, func() bool { return true })
		}
	}

	classifier := route.NewClassifier(comm.DeriveNodeID("evycomm-route"))
	router := route.NewRouter(reg.Status, nil, nil)

	qc := classifier.Classify(payload, qt, *level)
	pol := router.PolicyFor(qc)
	decision := router.Route(qc)

	fmt.Printf("query      %s / %s, priority %s, %d bytes\n",
		qc.Type, qc.Complexity, qc.Priority, qc.SizeEstimate)
	fmt.Printf("needs      latency <= %s, reliability >= %.2f\n",
		qc.LatencyTolerance, qc.ReliabilityRequirement)
	fmt.Printf("policy     prefer %s, timeout %s, max retries %d\n",
		layerList(pol.Preference), pol.Timeout, pol.MaxRetries)
	fmt.Printf("decision   %s  (est latency %s, reliability %.2f)\n",
		decision.Layer, decision.EstimatedLatency, decision.EstimatedReliability)
	fmt.Printf("fallbacks  %s\n", layerList(decision.Fallbacks))
	fmt.Printf("reason     %s\n", decision.Reason)
}

func layerList(ls []comm.Layer) string {
	if len(ls) == 0 {
		return "none"
	}
	names := make([]string, len(ls))
	for i, l := range ls {
		names[i] = l.String()
	}
	return strings.Join(names, " > ")
}

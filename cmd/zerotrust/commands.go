package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/analytics"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/lateral"
	"github.com/zerotrust/access-engine/internal/microseg"
	"github.com/zerotrust/access-engine/internal/models"
	"github.com/zerotrust/access-engine/internal/policy"
	"github.com/zerotrust/access-engine/internal/risk"
)

func seedFlag(cmd *cobra.Command) int64 {
	seed, _ := cmd.Flags().GetInt64("seed")
	return seed
}

// baseline

func newBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Learn behavioral baselines from synthetic events",
		RunE: func(cmd *cobra.Command, args []string) error {
			entities, _ := cmd.Flags().GetInt("entities")
			events, _ := cmd.Flags().GetInt("events")
			if entities < 1 || events < 1 {
				return fmt.Errorf("entities and events must be positive")
			}

			rng := rand.New(rand.NewSource(seedFlag(cmd)))
			store := behavioral.NewBaselineStore()
			ids := warmBaselines(rng, store, entities, events)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Baselines learned for %d entities\n\n", len(ids))
			fmt.Fprintf(out, "%-10s %8s %6s %6s %10s  %s\n",
				"ENTITY", "EVENTS", "PEAK-H", "PEAK-D", "AVG-DUR", "TOP RESOURCES")
			for _, id := range ids {
				summary, _ := store.ProfileSummary(id)
				fmt.Fprintf(out, "%-10s %8d %6d %6d %10.1f  %s\n",
					id,
					summary["observation_count"],
					summary["peak_hour"],
					summary["peak_day"],
					summary["avg_session_duration"],
					strings.Join(summary["top_resources"].([]string), ", "),
				)
			}
			return nil
		},
	}
	cmd.Flags().Int("entities", 5, "number of entities to synthesize")
	cmd.Flags().Int("events", 50, "events per entity")
	return cmd
}

// analyze

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score one event against a synthetic baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, _ := cmd.Flags().GetString("entity")
			hour, _ := cmd.Flags().GetInt("hour")
			resource, _ := cmd.Flags().GetString("resource")
			location, _ := cmd.Flags().GetString("location")
			ip, _ := cmd.Flags().GetString("ip")
			if hour < 0 || hour > 23 {
				return fmt.Errorf("hour must be in [0,23]")
			}

			rng := rand.New(rand.NewSource(seedFlag(cmd)))
			store := behavioral.NewBaselineStore()
			for i := 0; i < 60; i++ {
				store.Observe(entityID, synthEvent(rng, entityID))
			}

			ev := models.AccessEvent{
				EntityID: entityID,
				Resource: resource,
				Location: location,
				SourceIP: ip,
				Hour:     &hour,
			}
			detector := behavioral.NewAnomalyDetector(store)
			result := detector.Analyze(entityID, ev)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Anomaly score for %s: %.4f (anomalous: %v)\n\n", entityID, result.AnomalyScore, result.IsAnomalous)
			components := make([]string, 0, len(result.ComponentScores))
			for name := range result.ComponentScores {
				components = append(components, name)
			}
			sort.Strings(components)
			for _, name := range components {
				fmt.Fprintf(out, "  %-10s %.4f\n", name, result.ComponentScores[name])
			}
			return nil
		},
	}
	cmd.Flags().String("entity", "user-1", "entity to score")
	cmd.Flags().Int("hour", 3, "hour of the event")
	cmd.Flags().String("resource", "payroll-db", "resource accessed")
	cmd.Flags().String("location", "unknown-city", "event location")
	cmd.Flags().String("ip", "203.0.113.7", "source IP")
	return cmd
}

// detect

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run lateral movement detection over a synthetic access graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, _ := cmd.Flags().GetInt("nodes")
			edges, _ := cmd.Flags().GetInt("edges")
			hops, _ := cmd.Flags().GetInt("hops")
			if nodes < 2 {
				return fmt.Errorf("need at least 2 nodes")
			}

			seed := seedFlag(cmd)
			rng := rand.New(rand.NewSource(seed))
			detector := lateral.NewMovementDetector(
				lateral.WithSeed(seed),
				lateral.WithHopThreshold(hops),
			)

			// Background traffic between random hosts.
			for i := 0; i < edges; i++ {
				src := fmt.Sprintf("host-%d", rng.Intn(nodes))
				dst := fmt.Sprintf("host-%d", rng.Intn(nodes))
				if src == dst {
					continue
				}
				detector.AddAccessEvent(lateral.Edge{
					Src: src, Dst: dst, Action: "connect",
					Timestamp: float64(i), CredentialType: "service", Success: true,
				})
			}
			detector.LearnBaseline()

			// One credential hopping chain from a single source.
			for i := 0; i <= hops; i++ {
				detector.AddAccessEvent(lateral.Edge{
					Src: "host-0", Dst: fmt.Sprintf("host-%d", 1+i%(nodes-1)),
					Action: "login", Timestamp: float64(edges + i),
					CredentialType: "password", Success: true,
				})
			}

			alerts, err := detector.Detect(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			graph := detector.Graph()
			fmt.Fprintf(out, "Lateral Movement Detection\n")
			fmt.Fprintf(out, "  graph: %d nodes, %d edges\n", graph.NodeCount(), graph.EdgeCount())
			fmt.Fprintf(out, "  alerts: %d\n\n", len(alerts))
			for _, a := range alerts {
				fmt.Fprintf(out, "  [%.2f] %-22s %s\n", a.Severity, a.AlertType, strings.Join(a.Path, " -> "))
			}
			return nil
		},
	}
	cmd.Flags().Int("nodes", 12, "hosts in the synthetic graph")
	cmd.Flags().Int("edges", 40, "background edges")
	cmd.Flags().Int("hops", 4, "credential hopping chain length")
	return cmd
}

// policy

func samplePolicies() []policy.Policy {
	return []policy.Policy{
		{
			PolicyID: "pol-eng-read", Name: "Engineering read access", Enabled: true,
			Rules: []policy.Rule{{
				RuleID: "r1", Effect: policy.EffectAllow, Priority: 100, Enabled: true,
				Conditions: []policy.Condition{
					{Field: "department", Operator: "eq", Value: "engineering"},
					{Field: "action", Operator: "eq", Value: "read"},
				},
			}},
		},
		{
			PolicyID: "pol-external-deny", Name: "Deny external networks", Enabled: true,
			Rules: []policy.Rule{{
				RuleID: "r1", Effect: policy.EffectDeny, Priority: 200, Enabled: true,
				Conditions: []policy.Condition{
					{Field: "network_zone", Operator: "eq", Value: "external"},
				},
			}},
		},
		{
			PolicyID: "pol-offhours-mfa", Name: "Challenge off-hours access", Enabled: true,
			Rules: []policy.Rule{{
				RuleID: "r1", Effect: policy.EffectChallenge, Priority: 150, Enabled: true,
				Conditions: []policy.Condition{
					{Field: "hour", Operator: "lt", Value: 7},
				},
			}},
		},
	}
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluate policies against canned access contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			engine := policy.NewEngine()
			if file != "" {
				if _, err := engine.LoadYAMLFile(file); err != nil {
					return fmt.Errorf("load policies: %w", err)
				}
			} else {
				for _, p := range samplePolicies() {
					engine.AddPolicy(p)
				}
			}

			contexts := []map[string]interface{}{
				{"entity_id": "alice", "department": "engineering", "action": "read", "network_zone": "internal", "hour": 10},
				{"entity_id": "bob", "department": "sales", "action": "write", "network_zone": "external", "hour": 14},
				{"entity_id": "carol", "department": "engineering", "action": "read", "network_zone": "internal", "hour": 3},
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Policy evaluation (%v policies)\n\n", engine.PolicySummary()["total_policies"])
			for _, ctx := range contexts {
				verdict := engine.Evaluate(ctx)
				rule := verdict["rule_id"]
				if rule == nil {
					rule = verdict["reason"]
				}
				fmt.Fprintf(out, "  %-6s -> %-9s (%v)\n", ctx["entity_id"], verdict["decision"], rule)
			}

			conflicts := engine.DetectConflicts()
			fmt.Fprintf(out, "\nConflicts: %d\n", len(conflicts))
			for _, c := range conflicts {
				fmt.Fprintf(out, "  %v vs %v, winner %v\n", c["rule_1"], c["rule_2"], c["winner"])
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "YAML policy file (sample policies when empty)")
	return cmd
}

// dashboard

func newDashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Render an engine snapshot, locally or from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr != "" {
				return fetchDashboard(cmd, addr)
			}
			return localDashboard(cmd)
		},
	}
	cmd.Flags().String("addr", "", "base URL of a running API server (e.g. http://localhost:8080)")
	return cmd
}

func fetchDashboard(cmd *cobra.Command, addr string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/api/v1/dashboard")
	if err != nil {
		return fmt.Errorf("fetch dashboard: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch dashboard: server returned %s", resp.Status)
	}

	var snap map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode dashboard: %w", err)
	}
	pretty, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}

func localDashboard(cmd *cobra.Command) error {
	rng := rand.New(rand.NewSource(seedFlag(cmd)))

	baselines := behavioral.NewBaselineStore()
	decisions := access.NewDecisionEngine()
	riskEngine := risk.NewEngine(nil)
	movement := lateral.NewMovementDetector(lateral.WithSeed(seedFlag(cmd)))
	identities := identity.NewRegistry()

	ids := warmBaselines(rng, baselines, 3, 30)
	for _, id := range ids {
		identities.RegisterIdentity(identity.Identity{ID: id, Kind: identity.KindUser})
		riskEngine.Calculate(cmd.Context(), risk.RiskInput{
			EntityID: id, BehaviorScore: rng.Float64() * 0.4,
			DeviceHealth: 0.9, NetworkTrust: 0.7, AuthStrength: 1.0,
		})
		decisions.Evaluate(access.Context{
			EntityID: id, Resource: "crm", Action: "read",
			Device: access.HealthyDevice(), AuthMethod: "certificate",
			MFAVerified: true, NetworkZone: "internal",
		})
	}

	dash := analytics.NewDashboardService(
		baselines, riskEngine, decisions,
		access.NewContinuousVerifier(decisions), movement,
		policy.NewEngine(), microseg.NewSegmentManager(), identities, nil,
	)
	snap, err := dash.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	return renderSnapshot(cmd, snap)
}

func renderSnapshot(cmd *cobra.Command, snap *analytics.DashboardSnapshot) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Dashboard snapshot (%s)\n\n", snap.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  profiled entities: %d\n", snap.ProfiledEntities)
	fmt.Fprintf(out, "  active sessions:   %d\n", snap.ActiveSessions)
	fmt.Fprintf(out, "  decisions:         %v\n", snap.DecisionStats)
	fmt.Fprintf(out, "  lateral alerts:    %d\n", len(snap.LateralAlerts))
	fmt.Fprintf(out, "  isolation score:   %.2f\n", snap.IsolationScore)
	if len(snap.TopRiskEntities) > 0 {
		fmt.Fprintf(out, "\n  %-10s %10s %8s\n", "ENTITY", "COMPOSITE", "LEVEL")
		for _, r := range snap.TopRiskEntities {
			fmt.Fprintf(out, "  %-10s %10.4f %8s\n", r.EntityID, r.CompositeScore, r.RiskLevel)
		}
	}
	return nil
}

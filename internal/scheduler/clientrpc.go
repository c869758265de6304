package scheduler

import "github.com/ocurero/discoro/internal/wire"

// clientRPCService is *Scheduler reinterpreted so its exported methods
// can be registered as the net/rpc service "ClientRPC" (spec.md §4.8).
// Run registers it only under that name; no service named
// "discoro_scheduler" is registered, so Transport.Locate does not find the
// scheduler under that name. Every method here only ever posts a command
// onto the loop and blocks on a private reply channel — none of them
// touch fleet state directly, preserving the single-writer rule.
type clientRPCService Scheduler

func (c *clientRPCService) sched() *Scheduler { return (*Scheduler)(c) }

func (c *clientRPCService) Schedule(req wire.ScheduleReq, reply *wire.ScheduleResp) error {
	ch := make(chan wire.ScheduleResp, 1)
	c.sched().post(cmdSchedule{Req: req, Reply: ch})
	*reply = <-ch
	return nil
}

func (c *clientRPCService) Await(req wire.AwaitReq, reply *wire.AwaitResp) error {
	ch := make(chan wire.AwaitResp, 1)
	c.sched().post(cmdAwait{Req: req, Reply: ch})
	*reply = <-ch
	return nil
}

func (c *clientRPCService) Run(req wire.RunReq, reply *wire.RunResp) error {
	ch := make(chan wire.RunResp, 1)
	c.sched().post(cmdRun{Req: req, Reply: ch})
	*reply = <-ch
	return nil
}

func (c *clientRPCService) RunEach(req wire.RunEachReq, reply *wire.RunEachResp) error {
	ch := make(chan wire.RunEachResp, 1)
	c.sched().post(cmdRunEach{Req: req, Reply: ch})
	*reply = <-ch
	return nil
}

func (c *clientRPCService) NodesList(req wire.NodesListReq, reply *wire.NodesListResp) error {
	ch := make(chan wire.NodesListResp, 1)
	c.sched().post(cmdNodesList{Req: req, Reply: ch})
	*reply = <-ch
	return nil
}

func (c *clientRPCService) ServersList(req wire.ServersListReq, reply *wire.ServersListResp) error {
	ch := make(chan wire.ServersListResp, 1)
	c.sched().post(cmdServersList{Req: req, Reply: ch})
	*reply = <-ch
	return nil
}

func (c *clientRPCService) CloseComputation(req wire.CloseComputationReq, reply *wire.CloseComputationResp) error {
	ch := make(chan wire.CloseComputationResp, 1)
	c.sched().post(cmdCloseComputation{Req: req, Reply: ch})
	*reply = <-ch
	return nil
}

// statusReceiver is the inbound half of the scheduler<->agent protocol
// (spec.md §6's "Agent -> scheduler heartbeats") plus the client pulse
// ack (DESIGN.md "Post-review fixes"), registered as the net/rpc service
// "StatusReceiver". Every method is fire-and-forget from the caller's
// perspective: they only enqueue a command and return immediately,
// matching the asynchronous nature of these notifications.
type statusReceiver Scheduler

func (r *statusReceiver) sched() *Scheduler { return (*Scheduler)(r) }

func (r *statusReceiver) Termination(term wire.Termination, reply *struct{}) error {
	r.sched().post(cmdTermination{Term: term})
	return nil
}

func (r *statusReceiver) Heartbeat(hb wire.AgentHeartbeat, reply *struct{}) error {
	r.sched().post(cmdAgentHeartbeat{HB: hb})
	return nil
}

func (r *statusReceiver) Closed(ac wire.AgentClosed, reply *struct{}) error {
	r.sched().post(cmdAgentClosed{AC: ac})
	return nil
}

func (r *statusReceiver) ClientPulse(cp wire.ClientPulse, reply *struct{}) error {
	r.sched().post(cmdClientPulse{})
	return nil
}

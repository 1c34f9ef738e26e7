// Package es persists event streams with optimistic concurrency and rebuilds
// aggregates from them.
//
// # Streams and versions
//
// A stream is identified by a [StreamID] and holds events numbered 1, 2, 3 and
// so on without gaps. The version of a stream is the version of its last event.
// Events carry a [Payload], an actor, a timestamp and an optional deletion flag;
// the deletion state of a stream is the most recent flag that was set.
//
// # Aggregates
//
// Domain objects embed [BaseAggregate] and implement Handle with a type switch.
// Commands call [Raise], which applies the event and buffers it as a change:
//
//	type User struct {
//	    es.BaseAggregate
//	    Email string
//	}
//
//	func (u *User) Handle(e es.Event) error {
//	    switch p := e.Payload.(type) {
//	    case *EmailChanged:
//	        u.Email = p.Email
//	    default:
//	        return es.HandlerNotFound(u, e)
//	    }
//	    return nil
//	}
//
//	func (u *User) ChangeEmail(email string) error {
//	    return es.Raise(u, &EmailChanged{Email: email})
//	}
//
// # Committing
//
// A [UnitOfWork] is an immutable batch of appends, each with a
// [StreamExpectation]. [EventStore.Commit] checks every expectation before
// writing anything and again inside the [Backend] write, then publishes the
// committed events to the configured [EventBus] values. A [Session] buffers a
// unit of work for one caller:
//
//	sess := store.NewSession()
//	_ = sess.Append(id, "user", es.ShouldBeAtVersion(4), es.Event{Payload: &EmailChanged{Email: "a@b.c"}})
//	err := sess.SaveChanges(ctx)
//
// Backends are either [BatchAtomic], where a commit is all or nothing, or
// [StreamAtomic], where a failure after the first stream surfaces as a
// [*PartialCommitError]. The events of the streams committed before the failure
// are published all the same.
//
// # Repositories
//
// [TypedRepository] loads aggregates by replaying their streams and saves their
// changes with an expectation derived from the loaded version:
//
//	repo := es.NewTypedRepositoryFrom(env, NewUser)
//	u, ok, err := repo.Load(ctx, "user-123")
//	_ = u.ChangeEmail("new@example.com")
//	err = repo.Save(ctx, u)
//
// # Environment
//
// [NewEnv] wires a backend, the event registry, the store and a repository.
// Tests use [StartTestEnv] with the in-memory backend.
package es

/*
Package backend implements the resource backend for apps

A backend manages a Postgres-SQL database and provides a RESTful-API for the resources of
many apps. Every app carries its own definition of resource types.

# Definition

The definition is done entirely via JSON. It consists of resource types and the custom
properties of app members.

Example:

	  {
		"resources": {
		  "person": {
			"schema": {
			  "type": "object",
			  "required": ["name"],
			  "properties": {
				"name": {"type": "string"},
				"picture": {"type": "string", "format": "binary"}
			  }
			},
			"history": true,
			"roles": {"create": ["$public"], "update": ["editor"]}
		  },
		  "pet": {
			"schema": {"type": "object", "properties": {"owner": {"type": "integer"}}},
			"references": {"owner": {"resource": "person", "onDelete": "cascade"}},
			"expires": "7d"
		  }
		},
		"members": {
		  "properties": {
			"favourite": {"schema": {"type": "integer"}, "reference": {"resource": "person"}}
		  }
		}
	  }

Resources are validated against the JSON schema of their type. Properties with format
"binary" hold asset ids. On upload they may also hold the index of a file in the multipart
request. The example keeps a version history of every person. Pets are deleted together
with their owner and disappear after seven days.

This definition creates the following REST routes:

	GET /apps/{appId}/resources/person
	POST /apps/{appId}/resources/person
	PUT /apps/{appId}/resources/person
	GET /apps/{appId}/resources/person/{id}
	PUT /apps/{appId}/resources/person/{id}
	PATCH /apps/{appId}/resources/person/{id}
	DELETE /apps/{appId}/resources/person/{id}
	GET /apps/{appId}/resources/person/{id}/history

and the same for pet.

# Demo apps

An app in demo mode separates seed resources from the ephemeral resources users work with.
Resources created with ?seed=true are seeds. In a demo app each new seed immediately gets
an ephemeral copy, and only ephemeral resources are visible. POST /apps/{appId}/reseed
throws away all ephemeral resources and assets and creates fresh copies of the seeds, with
references and member properties pointing to the new copies.

# Notifications

Changes are written to an outbox table in the same transaction. ProcessOutboxAsync relays
them to the configured notify.Publisher and purges expired resources on every heartbeat.
*/
package backend

/*
Package objdb implements an embedded object database that persists graphs of
Go values through a pluggable storage driver.

We implement:

1. Stores, keyed collections of entities of one Go type. Each store keeps a
key list mapping application keys to record slots.

2. Indexes, in-memory collections of (value, key) or (value, value2, key)
tuples maintained on every save and persisted on flush.

3. References between entities. A property pointing at an entity of a store
is written as that entity's key, and the entity itself is saved (or loaded)
alongside by the same operation. Cycles are fine.

4. Triggers, byte interceptors, events, backup and restore.

# Technical Details

**Slots.**
Records are addressed by (store, slot), where a slot is a small integer
handed out by the store's key list. Drivers never see application keys
except as opaque bytes inside key lists and indexes.

**Type table.**
Each type name that appears in a record is replaced by a code from the
driver's type table. Codes are never reused or reassigned.

**Operation cache.**
Every top-level Save or Load owns an identity map keyed by (store, key).
An entity is written or read at most once per operation, and a second
encounter of the same key resolves to the instance already in the map.

## Binary encoding

**Record**: one encoded object value.

**Value**: header, then payload.

**Header**:
1. Flags (1 byte): null 0x01, foreign store 0x02, property name 0x04,
type code 0x08, property count 0x10, collection 0x20, serialized 0x40.
2. Store name (varstring), if foreign store.
3. Property name (varstring), if property name.
4. Type code (uvarint), if type code.
5. Property count (uvarint), if property count.
6. Collection kind (1 byte: array 0x01, list 0x02, dictionary 0x04) and
element count (uvarint), if collection.

**Payload**:
- object: property count values, each with a property name;
- foreign reference: the key as a serialized value;
- collection: element values (dictionaries alternate key and value);
- serialized: varbytes produced by the ValueSerializer.
*/
package objdb
